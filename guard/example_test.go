package guard_test

import (
	"fmt"

	"github.com/MrEthical07/goSession/guard"
)

func ExampleDecide() {
	d := guard.Decide(guard.Requirement{RequiresAuth: true}, guard.View{}, "/dashboard")
	fmt.Println(d.Allow, d.Redirect)
	// Output: false /login?redirect=%2Fdashboard
}

func ExampleTable_Lookup() {
	table, _ := guard.NewTable(
		guard.Route{Pattern: "/admin", Requirement: guard.Requirement{RequiresRole: guard.RoleAdmin}},
		guard.Route{Pattern: "/admin/public", Requirement: guard.Requirement{}},
	)
	req, ok := table.Lookup("/admin/public/faq?lang=en")
	fmt.Println(ok, req.RequiresRole == "")
	// Output: true true
}
