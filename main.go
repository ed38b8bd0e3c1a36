// Command ewp operates a single election: setup, credential issuance,
// casting, tally, verification and fraud review.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"ewp-backend/models"
	"ewp-backend/service"
	"ewp-backend/storage"
)

func main() {
	app := cli.NewApp()
	app.Name = "ewp"
	app.Usage = "end-to-end verifiable election engine"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "engine configuration file (TOML)",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "verbose logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "init",
			Usage:  "create the election: keys, trustee shares, roll commitment and manifest",
			Action: initElection,
		},
		{
			Name:   "reset",
			Usage:  "wipe the election state",
			Action: resetElection,
		},
		{
			Name:      "issue",
			Usage:     "issue a credential to a voter on the roll",
			ArgsUsage: "voter-id",
			Action:    issue,
		},
		{
			Name:   "challenge",
			Usage:  "issue a single-use cast challenge",
			Action: challenge,
		},
		{
			Name:      "cast",
			Usage:     "cast a ballot for a voter holding a credential",
			ArgsUsage: "voter-id contest=option...",
			Action:    cast,
		},
		{
			Name:      "spoil",
			Usage:     "encrypt a ballot, spoil it and audit the revealed secrets",
			ArgsUsage: "contest=option...",
			Action:    spoil,
		},
		{
			Name:  "tally",
			Usage: "reconstruct the election key and publish the tally",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:  "trustee, t",
					Usage: "trustee id whose share is used (default: first t trustees)",
				},
			},
			Action: tally,
		},
		{
			Name:  "verify",
			Usage: "run a verification and print its report",
			Subcommands: cli.Commands{
				{Name: "manifest", Usage: "check the active manifest", Action: verifyManifest},
				{Name: "ledger", Usage: "check the local ledger, the board and every ledger node", Action: verifyLedger},
				{Name: "receipt", Usage: "check a cast receipt", ArgsUsage: "receipt.json", Action: verifyReceipt},
				{Name: "ballot", Usage: "check a ballot is on the board", ArgsUsage: "ballot-id", Action: verifyBallot},
				{Name: "tally", Usage: "check the published tally", Action: verifyTally},
			},
		},
		{
			Name:  "fraud",
			Usage: "review fraud cases",
			Subcommands: cli.Commands{
				{Name: "list", Usage: "list fraud cases", Action: fraudList},
				{
					Name:      "action",
					Usage:     "move a case: triage, assign, investigate, escalate, confirm, clear or dismiss",
					ArgsUsage: "case-id action",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "actor", Usage: "reviewer taking the action"},
						cli.StringFlag{Name: "assignee", Usage: "reviewer assigned by assign"},
						cli.StringFlag{Name: "note", Usage: "free text"},
					},
					Action: fraudAction,
				},
			},
		},
		{
			Name:   "dashboard",
			Usage:  "print the operator dashboard",
			Action: dashboard,
		},
		{
			Name:   "portal",
			Usage:  "print the public trust portal snapshot",
			Action: portal,
		},
		{
			Name:  "simulate",
			Usage: "issue credentials and cast random ballots for the whole roll",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "workers", Value: 4, Usage: "concurrent workers"},
				cli.IntFlag{Name: "voters", Usage: "limit to the first n voters"},
				cli.BoolFlag{Name: "tally", Usage: "publish the tally afterwards"},
			},
			Action: simulate,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (service.Config, error) {
	if path := c.GlobalString("config"); path != "" {
		return service.LoadConfig(path)
	}
	return service.DefaultConfig(), nil
}

func openStore(cfg service.Config) (storage.ElectionStore, error) {
	return storage.Open(cfg.StoreKind, cfg.StatePath)
}

// withService opens the configured election and runs fn against it.
func withService(c *cli.Context, fn func(vs *service.VotingService) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	vs, err := service.Open(store, cfg)
	if err != nil {
		return err
	}
	return fn(vs)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printReport(r *models.VerificationReport, err error) error {
	if err != nil {
		return err
	}
	if err := printJSON(r); err != nil {
		return err
	}
	if !r.OK() {
		return cli.NewExitError("verification failed", 2)
	}
	return nil
}

func parseSelections(args []string) ([]models.ContestSelection, error) {
	var out []models.ContestSelection
	for _, a := range args {
		parts := strings.SplitN(a, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("selection %q is not contest=option", a)
		}
		out = append(out, models.ContestSelection{ContestID: parts[0], Selection: parts[1]})
	}
	return out, nil
}

func initElection(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	vs, err := service.Initialize(context.Background(), store, cfg)
	if err != nil {
		return err
	}
	return printReport(vs.VerifyManifest())
}

func resetElection(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Reset()
}

func issue(c *cli.Context) error {
	voterID := c.Args().First()
	if voterID == "" {
		return fmt.Errorf("please give a voter id")
	}
	return withService(c, func(vs *service.VotingService) error {
		cred, err := vs.IssueCredential(context.Background(), voterID)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"voter_id":   voterID,
			"did":        cred.DID,
			"issuers":    len(cred.IssuerSignatures),
			"issued_at":  cred.IssuedAt,
			"public_key": cred.PublicKey,
		})
	})
}

func challenge(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		ch, err := vs.IssueChallenge()
		if err != nil {
			return err
		}
		return printJSON(ch)
	})
}

func cast(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("please give a voter id and at least one contest=option")
	}
	selections, err := parseSelections(c.Args().Tail())
	if err != nil {
		return err
	}
	return withService(c, func(vs *service.VotingService) error {
		receipt, err := vs.CastFor(context.Background(), c.Args().First(), selections)
		if err != nil {
			return err
		}
		return printJSON(receipt)
	})
}

func spoil(c *cli.Context) error {
	selections, err := parseSelections(c.Args())
	if err != nil {
		return err
	}
	return withService(c, func(vs *service.VotingService) error {
		sealed, err := vs.EncryptBallot(selections)
		if err != nil {
			return err
		}
		sb, err := vs.SpoilBallot(sealed)
		if err != nil {
			return err
		}
		if err := printJSON(sb); err != nil {
			return err
		}
		return printReport(vs.VerifySpoiledBallot(sb))
	})
}

func tally(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		t, err := vs.PublishTally(context.Background(), c.StringSlice("trustee"))
		if err != nil {
			return err
		}
		return printJSON(t)
	})
}

func verifyManifest(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		return printReport(vs.VerifyManifest())
	})
}

func verifyLedger(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		local, err := vs.VerifyLocalLedger()
		if err != nil {
			return err
		}
		remote, err := vs.VerifyRemoteLedgers(context.Background())
		if err != nil {
			return err
		}
		if err := printJSON(append([]*models.VerificationReport{local}, remote...)); err != nil {
			return err
		}
		if !local.OK() {
			return cli.NewExitError("verification failed", 2)
		}
		for _, r := range remote {
			if !r.OK() {
				return cli.NewExitError("verification failed", 2)
			}
		}
		return nil
	})
}

func verifyReceipt(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("please give a receipt file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Accept either a bare receipt or a full cast response.
	var resp models.CastResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to decode receipt: %v", err)
	}
	receipt := resp.CastReceipt
	if receipt == nil {
		receipt = &models.CastReceipt{}
		if err := json.Unmarshal(data, receipt); err != nil {
			return fmt.Errorf("failed to decode receipt: %v", err)
		}
	}
	return withService(c, func(vs *service.VotingService) error {
		return printReport(vs.VerifyReceipt(receipt))
	})
}

func verifyBallot(c *cli.Context) error {
	ballotID := c.Args().First()
	if ballotID == "" {
		return fmt.Errorf("please give a ballot id")
	}
	return withService(c, func(vs *service.VotingService) error {
		return printReport(vs.VerifyBallotOnBoard(ballotID))
	})
}

func verifyTally(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		st, err := vs.State()
		if err != nil {
			return err
		}
		if st.Tally == nil {
			return models.NewError(models.ErrNotFound, "no tally published")
		}
		return printReport(vs.VerifyTally(st.Tally))
	})
}

func fraudList(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		st, err := vs.State()
		if err != nil {
			return err
		}
		return printJSON(service.FraudCases(st))
	})
}

func fraudAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("please give a case id and an action")
	}
	return withService(c, func(vs *service.VotingService) error {
		fc, err := vs.RecordFraudAction(context.Background(), service.FraudCaseAction{
			CaseID:     c.Args().Get(0),
			Action:     c.Args().Get(1),
			Actor:      c.String("actor"),
			AssignedTo: c.String("assignee"),
			Note:       c.String("note"),
		})
		if err != nil {
			return err
		}
		return printJSON(fc)
	})
}

func dashboard(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		d, err := vs.Dashboard()
		if err != nil {
			return err
		}
		return printJSON(d)
	})
}

func portal(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		tp, err := vs.TrustPortal(context.Background())
		if err != nil {
			return err
		}
		return printJSON(tp)
	})
}

func simulate(c *cli.Context) error {
	return withService(c, func(vs *service.VotingService) error {
		st, err := vs.State()
		if err != nil {
			return err
		}
		voters := st.VoterRoll
		if n := c.Int("voters"); n > 0 && n < len(voters) {
			voters = voters[:n]
		}
		contests := st.Manifest.Contests

		ctx := context.Background()
		qp := service.NewQueueProcessor(vs, len(voters), c.Int("workers"), 0)
		qp.Start(ctx)
		defer qp.Stop()

		start := time.Now()
		issued := 0
		for _, ch := range qp.BatchQueueIssuance(voters) {
			if r := <-ch; r.Success {
				issued++
			} else {
				log.WithField("voter_id", r.VoterID).Warnf("Issuance failed: %s %s", r.Code, r.Error)
			}
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		var results []<-chan *service.ProcessingResult
		for _, id := range voters {
			var selections []models.ContestSelection
			for _, contest := range contests {
				opt := contest.Options[rng.Intn(len(contest.Options))]
				selections = append(selections, models.ContestSelection{ContestID: contest.ContestID, Selection: opt.ID})
			}
			results = append(results, qp.QueueCast(id, selections))
		}
		accepted := 0
		for _, ch := range results {
			if r := <-ch; r.Success {
				accepted++
			} else {
				log.WithField("voter_id", r.VoterID).Warnf("Cast failed: %s %s", r.Code, r.Error)
			}
		}
		log.Infof("Simulated %d credentials and %d casts in %v", issued, accepted, time.Since(start))

		if c.Bool("tally") {
			t, err := vs.PublishTally(ctx, nil)
			if err != nil {
				return err
			}
			return printJSON(t)
		}
		return printJSON(vs.Metrics())
	})
}
