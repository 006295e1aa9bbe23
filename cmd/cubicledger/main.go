// Command cubicledger runs a cubic ledger node and exposes operator
// subcommands, mirroring the teacher's cmd/synnergy nested-cobra-command
// layout (testnet/tokens -> node/tx/ledger here).
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/synnergy-cubic/cubicledger/internal/api"
	"github.com/synnergy-cubic/cubicledger/internal/consensus"
	"github.com/synnergy-cubic/cubicledger/internal/events"
	"github.com/synnergy-cubic/cubicledger/internal/gossip"
	"github.com/synnergy-cubic/cubicledger/internal/identity"
	"github.com/synnergy-cubic/cubicledger/internal/ledger"
	"github.com/synnergy-cubic/cubicledger/internal/mempool"
	"github.com/synnergy-cubic/cubicledger/internal/txtypes"
	"github.com/synnergy-cubic/cubicledger/pkg/config"
)

func main() {
	_ = godotenv.Load(".env")
	viper.AutomaticEnv()

	root := &cobra.Command{Use: "cubicledger"}
	root.AddCommand(nodeCmd())
	root.AddCommand(txCmd())
	root.AddCommand(ledgerCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// node wires the full pipeline together: mempool, task manager,
// consensus workflow, ledger engine, an optional gossip transport, and
// an HTTP surface over it all (spec §4.3-§4.10 wired end-to-end).
type node struct {
	pool     *mempool.Pool
	bus      *events.Bus
	tasks    *consensus.TaskManager
	workflow *consensus.Workflow
	engine   *ledger.Engine
	gossip   *gossip.Node
}

func startNode(cfg *config.Config) (*node, error) {
	nodeID := uuid.NewString()
	logrus.WithField("nodeId", nodeID).Info("cubicledger: starting node")

	pool, err := mempool.Open(cfg.Storage.MempoolDBPath)
	if err != nil {
		return nil, fmt.Errorf("open mempool: %w", err)
	}

	bus := events.New()
	tasks := consensus.NewTaskManager()
	validators := cfg.Consensus.Validators
	if len(validators) == 0 {
		validators = []string{"v1", "v2", "v3"}
	}
	workflow := consensus.NewWorkflow(pool, tasks, bus, validators)
	if cfg.Consensus.RequiredValidations > 0 {
		workflow.RequiredValidations = cfg.Consensus.RequiredValidations
	}
	if cfg.Consensus.VerifySignatures {
		verifier := identity.NewVerifier(nil)
		workflow.SigVerifier = verifier.VerifySignature
	}

	var gossipNode *gossip.Node
	var publisher ledger.Publisher
	if cfg.Network.ListenAddr != "" {
		discoveryTag := cfg.Network.DiscoveryTag
		if discoveryTag == "" {
			discoveryTag = "cubicledger-" + nodeID
		}
		gossipNode, err = gossip.NewNode(cfg.Network.ListenAddr, discoveryTag)
		if err != nil {
			logrus.WithError(err).Warn("cubicledger: gossip transport unavailable, continuing local-only")
		} else {
			publisher = gossipNode
		}
	}

	engine := ledger.New(bus, publisher, pool.Store())

	// Wire the one-way Consensus -> Ledger channel (spec §9 "Cyclic
	// between Consensus and Ledger"): the ledger never references the
	// workflow back; it only reacts to the tx:finalized event.
	bus.Subscribe(events.TopicTxFinalized, func(payload interface{}) {
		m, ok := payload.(map[string]interface{})
		if !ok {
			return
		}
		tx, ok := m["tx"].(*txtypes.Transaction)
		if !ok {
			return
		}
		if _, err := engine.AdmitFinalized(tx); err != nil {
			logrus.WithError(err).Warn("cubicledger: ledger rejected finalized transaction")
		}
	})

	return &node{pool: pool, bus: bus, tasks: tasks, workflow: workflow, engine: engine, gossip: gossipNode}, nil
}

func (n *node) close() {
	if n.gossip != nil {
		_ = n.gossip.Close()
	}
	_ = n.pool.Close()
}

func loadConfig() *config.Config {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Warn("cubicledger: config load failed, using defaults")
		cfg = &config.AppConfig
	}
	if cfg.Storage.MempoolDBPath == "" {
		cfg.Storage.MempoolDBPath = "./cubicledger.db"
	}
	if cfg.API.BindAddr == "" {
		cfg.API.BindAddr = ":8089"
	}
	return cfg
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	start := &cobra.Command{
		Use:   "start",
		Short: "start a cubicledger node with its HTTP ingress",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			n, err := startNode(cfg)
			if err != nil {
				logrus.Fatalf("start node: %v", err)
			}
			defer n.close()

			srv := &api.Server{Pool: n.pool, Workflow: n.workflow, Engine: n.engine}
			logrus.Infof("cubicledger listening on %s", cfg.API.BindAddr)
			if err := http.ListenAndServe(cfg.API.BindAddr, srv.Router()); err != nil {
				logrus.Fatalf("http server: %v", err)
			}
		},
	}
	cmd.AddCommand(start)
	return cmd
}

func txCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tx"}

	submit := &cobra.Command{
		Use:   "submit [json]",
		Short: "submit a raw transaction via the local mempool (dev/debug use)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			n, err := startNode(cfg)
			if err != nil {
				logrus.Fatalf("start node: %v", err)
			}
			defer n.close()

			leaderID, _ := cmd.Flags().GetString("leader")
			tx, err := txtypes.FromReader(strings.NewReader(args[0]))
			if err != nil {
				logrus.Fatalf("parse tx: %v", err)
			}
			if err := txtypes.Validate(tx); err != nil {
				logrus.Fatalf("invalid tx: %v", err)
			}
			rawTxID, err := n.workflow.Submit(leaderID, tx, uint64(time.Now().UnixNano()))
			if err != nil {
				logrus.Fatalf("submit: %v", err)
			}
			fmt.Println(rawTxID)
		},
	}
	submit.Flags().String("leader", "cli", "submitting leader id")
	cmd.AddCommand(submit)

	validate := &cobra.Command{
		Use:   "validate [raw_tx_id]",
		Short: "record a validator completion for a raw transaction (dev/debug use)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			n, err := startNode(cfg)
			if err != nil {
				logrus.Fatalf("start node: %v", err)
			}
			defer n.close()

			validatorID, _ := cmd.Flags().GetString("validator")
			validatedHash := n.workflow.CompleteValidation(validatorID, args[0], uint64(time.Now().UnixNano()))
			if validatedHash != "" {
				fmt.Println(validatedHash)
			}
		},
	}
	validate.Flags().String("validator", "v1", "completing validator id")
	cmd.AddCommand(validate)

	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger"}
	stats := &cobra.Command{
		Use:   "stats",
		Short: "print mempool stage counts and ledger tower depth",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			n, err := startNode(cfg)
			if err != nil {
				logrus.Fatalf("start node: %v", err)
			}
			defer n.close()

			raw, proc, fin, locked := n.pool.Stats()
			fmt.Printf("raw=%d processing=%d finalized=%d locked_utxos=%d\n", raw, proc, fin, locked)
			for level := 1; level <= 8; level++ {
				open := len(n.engine.OpenCubes(level))
				completed := len(n.engine.CompletedCubes(level))
				if open == 0 && completed == 0 {
					break
				}
				fmt.Printf("level %d: open_cubes=%d completed_cubes=%d\n", level, open, completed)
			}
		},
	}
	cmd.AddCommand(stats)

	stuck := &cobra.Command{
		Use:   "stuck [older_than_seconds]",
		Short: "list raw transactions that never reached validation quorum",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			n, err := startNode(cfg)
			if err != nil {
				logrus.Fatalf("start node: %v", err)
			}
			defer n.close()

			seconds := 60
			if len(args) > 0 {
				if v, err := strconv.Atoi(args[0]); err == nil {
					seconds = v
				}
			}
			recs := n.pool.StuckRawTransactions(uint64(seconds)*1_000_000_000, uint64(time.Now().UnixNano()))
			for _, rec := range recs {
				fmt.Printf("%s leader=%s submitted=%d\n", rec.RawTxID, rec.LeaderID, rec.SubmissionTimestamp)
			}
		},
	}
	cmd.AddCommand(stuck)

	return cmd
}
