package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Basalt-Foundation/basalt/internal/chain"
	"github.com/Basalt-Foundation/basalt/internal/consensus"
	"github.com/Basalt-Foundation/basalt/internal/coordinator"
	"github.com/Basalt-Foundation/basalt/internal/cryptoprims"
	"github.com/Basalt-Foundation/basalt/internal/keystore"
	"github.com/Basalt-Foundation/basalt/internal/kv"
	"github.com/Basalt-Foundation/basalt/internal/staking"
	"github.com/Basalt-Foundation/basalt/internal/statedb"
	"github.com/Basalt-Foundation/basalt/internal/triedb"
	"github.com/Basalt-Foundation/basalt/internal/xuint256"
	"github.com/Basalt-Foundation/basalt/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "basaltnode"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(keygenCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a basalt node",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			password, _ := cmd.Flags().GetString("keystore-password")
			return runNode(env, password)
		},
	}
	cmd.Flags().String("env", "", "configuration environment to merge over default")
	cmd.Flags().String("keystore-password", "", "password for the validator keystore")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen [path]",
		Short: "generate a validator identity keystore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			id, err := keystore.Generate()
			if err != nil {
				return err
			}
			if err := keystore.Save(args[0], []byte(password), id); err != nil {
				return err
			}
			fmt.Printf("address: %s\n", cryptoprims.DeriveAddress(id.Ed25519Public))
			fmt.Printf("peer id: %s\n", cryptoprims.DerivePeerID(id.Ed25519Public))
			return nil
		},
	}
	cmd.Flags().String("password", "", "keystore password")
	return cmd
}

func runNode(env, password string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return err
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(lvl)
	}

	initialBaseFee, err := xuint256.TryParse(orDefault(cfg.Execution.InitialBaseFee, "1000000000"))
	if err != nil {
		return err
	}
	minStake, err := xuint256.TryParse(orDefault(cfg.Staking.MinimumValidatorStake, "1000000000000000000"))
	if err != nil {
		return err
	}

	params, err := chain.NewParams(chain.Params{
		ChainID:                  cfg.Network.ChainID,
		BlockGasLimit:            cfg.Execution.BlockGasLimit,
		Elasticity:               cfg.Execution.Elasticity,
		BaseFeeChangeDenominator: cfg.Execution.BaseFeeChangeDenominator,
		InitialBaseFee:           initialBaseFee,
		EpochLength:              cfg.Staking.EpochLength,
		BlockTimeMS:              cfg.Consensus.BlockTimeMS,
		ValidatorSetSize:         cfg.Staking.ValidatorSetSize,
		MinimumValidatorStake:    minStake,
		MaxPipelineDepth:         cfg.Consensus.MaxPipelineDepth,
		ViewTimeout:              time.Duration(cfg.Consensus.ViewTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	id, err := keystore.Load(cfg.Keystore.Path, []byte(password))
	if err != nil {
		return err
	}

	kvStore, err := kv.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer kvStore.Close()

	state := statedb.NewCached(statedb.NewTrieStateDB(triedb.NewKVNodeStore(kvStore)), 0, log)
	ref := statedb.NewRef(state)

	stak := staking.New(staking.Params{
		MinimumValidatorStake: params.MinimumValidatorStake,
		UnbondingBlocks:       cfg.Staking.UnbondingBlocks,
	})

	selfAddr := cryptoprims.DeriveAddress(id.Ed25519Public)
	if err := stak.RegisterValidator(selfAddr, params.MinimumValidatorStake); err != nil {
		return err
	}
	genesisSet, err := consensus.NewValidatorSet([]consensus.ValidatorInfo{{
		PeerID:     cryptoprims.DerivePeerID(id.Ed25519Public),
		Ed25519Key: id.Ed25519Public,
		BLSKey:     id.BLSPrivate.PublicKey(),
		Address:    selfAddr,
		Stake:      params.MinimumValidatorStake,
	}})
	if err != nil {
		return err
	}

	genesis := &chain.BlockHeader{
		ChainID:         params.ChainID,
		TimestampMS:     1,
		GasLimit:        params.BlockGasLimit,
		BaseFee:         params.InitialBaseFee,
		StateRoot:       state.StateRoot(),
		ProtocolVersion: chain.ProtocolVersion,
	}

	node, err := coordinator.New(coordinator.Config{
		Params:              params,
		Identity:            id,
		ListenAddr:          cfg.Network.ListenAddr,
		Genesis:             genesis,
		MempoolGlobalCap:    cfg.Mempool.GlobalCap,
		MempoolPerSenderCap: cfg.Mempool.PerSenderCap,
		Logger:              log,
	}, kvStore, ref, stak, genesisSet)
	if err != nil {
		return err
	}

	if err := node.Start(); err != nil {
		return err
	}
	log.WithField("listen", cfg.Network.ListenAddr).Info("basalt node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	node.Stop()
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
