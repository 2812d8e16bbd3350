package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "query, publish, and subscribe to events"}
	cmd.AddCommand(eventsOffsetsCmd())
	cmd.AddCommand(eventsPublishCmd())
	cmd.AddCommand(eventsQueryCmd())
	cmd.AddCommand(eventsSubscribeCmd())
	cmd.AddCommand(eventsSubscribeMonotonicCmd())
	return cmd
}

func eventsOffsetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offsets",
		Short: "print this node's present offsets and known replication lag",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := doJSON(cmd, "GET", "/api/v2/events/offsets", nil, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func eventsPublishCmd() *cobra.Command {
	var tags []string
	var payload string
	c := &cobra.Command{
		Use:   "publish",
		Short: "publish a single event with the given tags and JSON payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if payload == "" {
				payload = "{}"
			}
			if err := json.Unmarshal([]byte(payload), &raw); err != nil {
				return fmt.Errorf("payload must be valid JSON: %w", err)
			}
			body := map[string]interface{}{
				"data": []map[string]interface{}{
					{"tags": tags, "payload": raw},
				},
			}
			var out json.RawMessage
			if err := doJSON(cmd, "POST", "/api/v2/events/publish", body, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	c.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	c.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	return c
}

func eventsQueryCmd() *cobra.Command {
	var query string
	var order string
	c := &cobra.Command{
		Use:   "query",
		Short: "run a bounded AQL query and print matching events/values as ndjson",
		RunE: func(cmd *cobra.Command, args []string) error {
			var offsets struct {
				Present map[string]uint64 `json:"present"`
			}
			if err := doJSON(cmd, "GET", "/api/v2/events/offsets", nil, &offsets); err != nil {
				return err
			}
			if offsets.Present == nil {
				offsets.Present = map[string]uint64{}
			}
			body := map[string]interface{}{"query": query, "order": order, "upperBound": offsets.Present}
			return streamNDJSON(cmd, "POST", "/api/v2/events/query", body, func(line []byte) bool {
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
				return true
			})
		},
	}
	c.Flags().StringVar(&query, "query", "FROM allEvents", "AQL query text")
	c.Flags().StringVar(&order, "order", "Asc", "Asc|Desc|StreamAsc")
	return c
}

func eventsSubscribeCmd() *cobra.Command {
	var query string
	c := &cobra.Command{
		Use:   "subscribe",
		Short: "run an unbounded AQL subscription and print events as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"query": query}
			return streamNDJSON(cmd, "POST", "/api/v2/events/subscribe", body, func(line []byte) bool {
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
				return true
			})
		},
	}
	c.Flags().StringVar(&query, "query", "FROM allEvents", "AQL query text")
	return c
}

func eventsSubscribeMonotonicCmd() *cobra.Command {
	var query, session string
	c := &cobra.Command{
		Use:   "subscribe-monotonic",
		Short: "subscribe with causal-order guarantees and TimeTravel markers on reordering",
		RunE: func(cmd *cobra.Command, args []string) error {
			if session == "" {
				session = uuid.New().String()
			}
			body := map[string]interface{}{"query": query, "session": session}
			fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", session)
			return streamNDJSON(cmd, "POST", "/api/v2/events/subscribe_monotonic", body, func(line []byte) bool {
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
				return true
			})
		},
	}
	c.Flags().StringVar(&query, "query", "FROM allEvents", "AQL query text")
	c.Flags().StringVar(&session, "session", "", "session id to resume (generated with google/uuid if omitted)")
	return c
}
