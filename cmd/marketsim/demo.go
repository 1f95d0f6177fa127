package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/uhyunpark/asyncexchange/pkg/app/agent"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/account"
	"github.com/uhyunpark/asyncexchange/pkg/app/core/orderbook"
)

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "run a fixed two-trader scenario and print the book after each step",
		Action: func(c *cli.Context) error {
			return runDemo(c.App.Writer)
		},
	}
}

// runDemo walks two traders through a short scripted exchange.
func runDemo(w io.Writer) error {
	ex := orderbook.NewExchange()
	reg := account.NewRegistry(nil)

	acc1, err := reg.CreateDefault()
	if err != nil {
		return err
	}
	acc2, err := reg.CreateDefault()
	if err != nil {
		return err
	}
	if err := acc1.SetStocks(100); err != nil {
		return err
	}

	t1, t2 := agent.NewTrader(acc1), agent.NewTrader(acc2)
	ex.RegisterTrader(t1)
	ex.RegisterTrader(t2)

	t1.Sell(30, 4)
	t1.Sell(50, 5)
	t1.Sell(5, 3)
	t2.Buy(100, 1)
	fmt.Fprintln(w, ex)

	t2.Buy(40, 2)
	fmt.Fprintln(w, ex)

	t1.Buy(40, 5)
	fmt.Fprintln(w, ex)

	fmt.Fprintln(w, t1)
	fmt.Fprintln(w, t2)
	return nil
}
