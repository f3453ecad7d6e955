package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nova-battle-service/internal/client"
	"nova-battle-service/internal/domain"
	"nova-battle-service/internal/round"

	"github.com/spf13/cobra"
)

type playOptions struct {
	server string
	user   string
	code   string
	create string
	tags   []string
	finish bool
}

// NewPlayCmd runs one battle round in the terminal against a running server.
func NewPlayCmd() *cobra.Command {
	opts := playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a battle and answer its questions in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.code == "" && opts.create == "" {
				return errors.New("either --code or --create is required")
			}
			c, err := client.New(client.Config{BaseURL: opts.server})
			if err != nil {
				return err
			}
			return play(cmd.Context(), c, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "battle server base url")
	cmd.Flags().StringVar(&opts.user, "user", "", "username to log in as")
	cmd.Flags().StringVar(&opts.code, "code", "", "battle code to join")
	cmd.Flags().StringVar(&opts.create, "create", "", "create a battle with this name before joining")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", []string{"javascript"}, "tags for --create")
	cmd.Flags().BoolVar(&opts.finish, "finish", false, "close the battle after submitting")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func play(ctx context.Context, c *client.Client, opts playOptions, in io.Reader, out io.Writer) error {
	if err := c.Login(ctx, opts.user); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	code := opts.code
	if opts.create != "" {
		created, err := c.Create(ctx, opts.create, opts.tags)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		code = created.Code
		fmt.Fprintf(out, "Created %q, share code %s\n", created.Name, created.Code)
	}

	battle, err := c.Join(ctx, code)
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}
	fmt.Fprintf(out, "Joined %s with %d questions. Type :q to leave.\n", battle.Name, len(battle.Questions))

	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	col := round.NewCollector(battle.Questions, round.BudgetsFrom(battle.TimeBudgets))
	if err := runRound(ctx, col, lines, out); err != nil {
		return err
	}

	submit := func(ctx context.Context, answers []domain.Answer, total float64) error {
		res, err := c.Evaluate(ctx, client.Submission{
			BattleID:       battle.ID,
			Answers:        answers,
			CompletionTime: total,
			Finish:         opts.finish,
		})
		if err != nil {
			return err
		}
		a := res.Analytics
		fmt.Fprintf(out, "Score %d, accuracy %.1f%% (%d correct, %d incorrect). Battle is %s.\n",
			a.TotalScore, a.Accuracy, a.CorrectCount, a.IncorrectCount, res.Status)
		return nil
	}
	for {
		err := col.Submit(ctx, submit)
		if err == nil {
			break
		}
		fmt.Fprintf(out, "Submit failed: %v\nRetry? [y/N] ", err)
		line, ok := <-lines
		if !ok || !strings.EqualFold(strings.TrimSpace(line), "y") {
			return err
		}
	}

	analysis, err := c.Analysis(ctx, battle.ID)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	fmt.Fprintln(out, "Leaderboard:")
	for _, p := range analysis.Leaderboard {
		fmt.Fprintf(out, "  %d. %-16s %3d pts  %5.1f%%\n", p.Rank, p.Username, p.Score, p.Accuracy)
	}
	return nil
}

// readLines streams lines from in until it is exhausted or done is closed.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

func runRound(ctx context.Context, col *round.Collector, lines <-chan string, out io.Writer) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	shown := -1
	for col.State() == round.AwaitingAnswer {
		q, idx, ok := col.Current()
		if ok && idx != shown {
			shown = idx
			printQuestion(out, idx, q, col.Remaining())
		}
		select {
		case <-ctx.Done():
			col.Abandon()
			return ctx.Err()
		case <-ticker.C:
			if col.Tick() {
				fmt.Fprintln(out, "Time up.")
			}
		case line, open := <-lines:
			if !open || strings.TrimSpace(line) == ":q" {
				col.Abandon()
				return errors.New("round abandoned")
			}
			if err := col.Select(answerFor(q, line)); err != nil {
				// The timer locked the question between the prompt and the input.
				continue
			}
			_ = col.Next()
		}
	}
	return nil
}

func printQuestion(out io.Writer, idx int, q domain.PublicQuestion, left time.Duration) {
	fmt.Fprintf(out, "\nQ%d (%s, %ds): %s\n", idx+1, q.Kind, int(left.Round(time.Second).Seconds()), q.Text)
	for i, opt := range q.Options {
		fmt.Fprintf(out, "  %d) %s\n", i+1, opt)
	}
	fmt.Fprint(out, "> ")
}

// answerFor maps an option number to its text for mcq questions.
func answerFor(q domain.PublicQuestion, line string) string {
	line = strings.TrimSpace(line)
	if q.Kind == domain.KindMCQ {
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(q.Options) {
			return q.Options[n-1]
		}
	}
	return line
}
