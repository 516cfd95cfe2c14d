package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentcontext"
	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/provider"
	"github.com/hupe1980/agentcontext/runner"
	"github.com/hupe1980/agentcontext/tool"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume an interactive conversation",
		Long: `Reads one user message per line and prints the model's replies.

Tool calls that need approval are prompted for: answer y to approve, n to
deny or a to approve and always allow the method for this session.

Commands:
  /resources      show tracked resources
  /providers      list context providers
  /toggle <id>    enable or disable a provider
  /save           save the session
  /quit           save and exit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessionID, _ := cmd.Flags().GetString("session")
			title, _ := cmd.Flags().GetString("title")
			return runChat(cmd, flags, sessionID, title)
		},
	}
	cmd.Flags().StringP("session", "s", "", "Resume the session with this ID")
	cmd.Flags().StringP("title", "t", "", "Title for the session")
	return cmd
}

func runChat(cmd *cobra.Command, flags *rootFlags, sessionID, title string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	var rt *agentcontext.Runtime
	if sessionID != "" {
		rt, err = agentcontext.RestoreFromConfig(ctx, cfg, logger, sessionID)
	} else {
		rt, err = agentcontext.NewFromConfig(cfg, logger)
	}
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))
	if title != "" {
		rt.SetTitle(title)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (model %s)\n", rt.SessionID(), rt.Model().Info().Name)

	c := &chat{rt: rt, in: bufio.NewScanner(cmd.InOrStdin()), out: out}
	for {
		fmt.Fprint(out, "> ")
		line, ok := c.readLine()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := c.command(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	if err := c.in.Err(); err != nil {
		return err
	}
	return rt.Save(ctx)
}

type chat struct {
	rt  *agentcontext.Runtime
	in  *bufio.Scanner
	out io.Writer
}

func (c *chat) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *chat) turn(ctx context.Context, text string) error {
	_, events, errs, err := c.rt.Run(ctx, text)
	if err != nil {
		return err
	}
	streamed := false
	for ev := range events {
		switch ev.Type {
		case runner.EventPartial:
			streamed = true
			fmt.Fprint(c.out, ev.Text)
		case runner.EventMessage:
			c.printMessage(ev.Message, streamed)
			streamed = false
		case runner.EventApprovalRequired:
			if err := c.approve(ctx, ev.Invocation); err != nil {
				return err
			}
		}
	}
	return <-errs
}

func (c *chat) printMessage(msg core.Message, streamed bool) {
	switch msg.Role {
	case core.RoleModel:
		if streamed {
			fmt.Fprintln(c.out)
		} else if text := msg.Text(); text != "" {
			fmt.Fprintln(c.out, text)
		}
		for _, call := range msg.FunctionCalls() {
			fmt.Fprintf(c.out, "[call %s %s]\n", call.Name, call.Arguments)
		}
	case core.RoleTool:
		for _, fr := range msg.FunctionResponses() {
			fmt.Fprintf(c.out, "[%s %s]\n", fr.Name, fr.Status)
		}
	}
}

func (c *chat) approve(ctx context.Context, inv *tool.Invocation) error {
	for {
		fmt.Fprintf(c.out, "allow %s %s? [y/n/a] ", inv.Method, inv.RawArguments)
		answer, ok := c.readLine()
		if !ok {
			return c.rt.Decide(ctx, inv.ID, tool.Denied)
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return c.rt.Decide(ctx, inv.ID, tool.Approved)
		case "n", "no":
			return c.rt.Decide(ctx, inv.ID, tool.Denied)
		case "a", "always":
			c.rt.Lifecycle().Preferences().Set(inv.Method, tool.AlwaysAllow)
			return c.rt.Decide(ctx, inv.ID, tool.Approved)
		}
	}
}

func (c *chat) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/save":
		if err := c.rt.Save(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "saved")
	case "/resources":
		records := c.rt.Tracker().Overview()
		if len(records) == 0 {
			fmt.Fprintln(c.out, "no tracked resources")
			return false, nil
		}
		fmt.Fprint(c.out, provider.RenderOverview(records))
	case "/providers":
		for _, p := range c.rt.Providers().Providers() {
			state := "off"
			if p.Enabled {
				state = "on"
			}
			fmt.Fprintf(c.out, "%-20s %-4s %s (%s)\n", p.ID, state, p.DisplayName, p.Position)
		}
	case "/toggle":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /toggle <provider-id>")
		}
		reg := c.rt.Providers()
		enabled := !reg.Enabled(fields[1])
		if err := reg.SetEnabled(fields[1], enabled); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "%s enabled=%t\n", fields[1], enabled)
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}
