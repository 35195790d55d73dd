package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"

	"evoting-core/models"
	"evoting-core/service"
)

// withService opens storage, runs fn and closes storage again.
func withService(c *cli.Context, fn func(ctx context.Context, vs *service.VotingService) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := context.Background()

	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing storage")
		}
	}()

	vs, err := cfg.VotingService(store)
	if err != nil {
		return err
	}
	return fn(ctx, vs)
}

func requireArg(c *cli.Context, name string) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", errors.Errorf("missing %s argument", name)
	}
	return arg, nil
}

func actionElectionCreate(c *cli.Context) error {
	path, err := requireArg(c, "electionfile")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	var req service.CreateElectionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrapf(err, "failed to parse %s", path)
	}

	return withService(c, func(ctx context.Context, vs *service.VotingService) error {
		election, err := vs.CreateElection(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(c, election)
	})
}

func actionElectionStatus(c *cli.Context) error {
	id, err := requireArg(c, "election-id")
	if err != nil {
		return err
	}
	return withService(c, func(ctx context.Context, vs *service.VotingService) error {
		state, err := vs.ElectionStatus(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s (%s)\nphase:  %s\nstatus: %s\nwindow: %s .. %s\n",
			state.Name, state.ElectionID, state.Phase, state.Status,
			state.StartTime.Format("2006-01-02 15:04:05Z07:00"), state.EndTime.Format("2006-01-02 15:04:05Z07:00"))

		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tCANDIDATE\tPARTY")
		for _, cand := range state.Candidates {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", cand.Ordinal, cand.Name, cand.PartyName)
		}
		return tw.Flush()
	})
}

func actionElectionTally(c *cli.Context) error {
	id, err := requireArg(c, "election-id")
	if err != nil {
		return err
	}
	return withService(c, func(ctx context.Context, vs *service.VotingService) error {
		var (
			result *models.TallyResult
			err    error
		)
		if c.Bool("aggregate") {
			result, err = vs.TallyAggregated(ctx, id)
		} else {
			result, err = vs.Tally(ctx, id)
		}
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tCANDIDATE\tPARTY\tVOTES")
		for _, cc := range result.Candidates {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", cc.Ordinal, cc.Name, cc.PartyName, cc.Votes)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "turnout: %d of %d registered voters\n", result.VotersVoted, result.TotalVoters)
		if result.Winner != nil {
			fmt.Fprintf(c.App.Writer, "winner:  %s\n", result.Winner.Name)
		} else {
			fmt.Fprintln(c.App.Writer, "winner:  none (no votes)")
		}
		return nil
	})
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
