package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/wosafety/internal/render"
	"github.com/user/wosafety/internal/review"
	"github.com/user/wosafety/internal/types"
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("hazards", false, "also check for hazards near the work order")
}

var checkCmd = &cobra.Command{
	Use:   "check <work order id>",
	Short: "Run a safety check in-process and stream the analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	withHazards, _ := cmd.Flags().GetBool("hazards")

	st, err := newStack(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st.gateway.Start(ctx)
	defer st.gateway.Stop()

	page, err := review.Open(ctx, st.reviewDeps(), types.WorkOrderID(args[0]))
	if err != nil {
		return err
	}
	defer page.Close()

	fmt.Println(renderHeader(page.View()))

	if withHazards {
		page.SetLocationExpanded(true)
		if _, err := page.PerformHazardCheck(ctx); err != nil {
			fmt.Println(errorStyle.Render(page.View().Error))
		} else {
			fmt.Println(renderHazards(page.View()))
		}
	}

	printer := &deltaPrinter{}
	sub := page.Subscription()
	sub.OnUpdate(func(frags []types.Fragment) {
		printer.print(render.Markdown(frags))
	})

	if _, err := page.PerformSafetyCheck(ctx); err != nil {
		fmt.Println(renderHeader(page.View()))
		return err
	}

	select {
	case <-sub.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Println()

	page.Reload(ctx)
	v := page.View()
	if v.Error != "" {
		fmt.Println(errorStyle.Render(v.Error))
	}
	if err := sub.Err(); err != nil {
		return err
	}
	fmt.Println(renderResult(v))
	return nil
}

// deltaPrinter writes the part of a growing text not yet printed. Fragments
// that arrive out of order change earlier text; the whole text is reprinted
// then.
type deltaPrinter struct {
	printed string
}

func (p *deltaPrinter) print(text string) {
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(os.Stdout, text[len(p.printed):])
	} else {
		fmt.Fprint(os.Stdout, "\n"+text)
	}
	p.printed = text
}
