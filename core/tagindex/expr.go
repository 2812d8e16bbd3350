package tagindex

// Expr is a tag expression: allEvents, Tag(t), AppId(a), FromTime(t),
// ToTime(t), IsLocal, or a boolean AND/OR combination (spec.md §4.5).
type Expr interface {
	isExpr()
}

type AllEvents struct{}

type TagExpr struct{ Tag Tag }

type AppIdExpr struct{ AppId string }

type FromTimeExpr struct{ Micros int64 }

type ToTimeExpr struct{ Micros int64 }

type IsLocalExpr struct{}

type AndExpr struct{ Left, Right Expr }

type OrExpr struct{ Left, Right Expr }

func (AllEvents) isExpr()    {}
func (TagExpr) isExpr()      {}
func (AppIdExpr) isExpr()    {}
func (FromTimeExpr) isExpr() {}
func (ToTimeExpr) isExpr()   {}
func (IsLocalExpr) isExpr()  {}
func (AndExpr) isExpr()      {}
func (OrExpr) isExpr()       {}

// And combines two expressions conjunctively.
func And(l, r Expr) Expr { return AndExpr{Left: l, Right: r} }

// Or combines two expressions disjunctively.
func Or(l, r Expr) Expr { return OrExpr{Left: l, Right: r} }
