package main

import (
	"errors"
	"fmt"
	"os"

	"lexion/cmd/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		var uerr *app.UserError
		if errors.As(err, &uerr) {
			fmt.Fprintln(os.Stderr, "error:", uerr.Msg)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
