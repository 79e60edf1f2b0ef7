package procflow_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/petrijr/procflow"
)

func Example() {
	ctx := context.Background()

	def := procflow.New("greeting").
		Variables("name", "greeting").
		Start("start").
		Action("greet", procflow.TypedAction("name", "greeting",
			func(_ context.Context, name string) (string, error) {
				return "Hello, " + name, nil
			})).
		End("end").
		MustBuild()

	app, err := procflow.NewApplication(ctx, procflow.Config{
		Definitions: []*procflow.Definition{def},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = app.Close(ctx) }()

	pi, err := app.Service.CreateProcessInstance(ctx, "greeting", procflow.CreateRequest{
		Variables: map[string]any{"name": "Ada"},
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(pi.Status(), pi.Variables()["greeting"])
	// Output: COMPLETED Hello, Ada
}

func ExampleProcessBuilder_Event() {
	ctx := context.Background()

	app, err := procflow.NewApplication(ctx, procflow.Config{})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = app.Close(ctx) }()

	procflow.New("shipping").
		Variables("carrier").
		Start("start").
		Event("dispatched", "dispatched", procflow.WithOutputs(map[string]string{"": "carrier"})).
		Action("label", func(ac procflow.ActionContext) error {
			ac.Set("carrier", strings.ToUpper(ac.Get("carrier").(string)))
			return nil
		}).
		End("end").
		MustRegister(ctx, app)

	pi, err := app.Service.CreateProcessInstance(ctx, "shipping", procflow.CreateRequest{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(pi.Status())

	vars, err := app.Service.SignalProcessInstance(ctx, "shipping", pi.ID(), "dispatched", "dhl")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(vars["carrier"])
	// Output:
	// ACTIVE
	// DHL
}
