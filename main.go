package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jarabaimpact/agentflow/config"
	"github.com/jarabaimpact/agentflow/engine"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	defaults := config.Default()
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("log-level", defaults.LogLevel, "log level")
	cmd.Flags().Int("http-port", defaults.HttpPort, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", string(defaults.StorageType), "implementation of underline storage")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "agentflow", "namespace used in storage")
	cmd.Flags().Int("executor-pool-size", defaults.ExecutorPoolSize, "flow executor pool size")
	cmd.Flags().Int("executor-capacity", defaults.ExecutorCapacity, "flow executor capacity")
	cmd.Flags().Int("max-concurrent-per-agent", defaults.MaxConcurrentPerAgent, "concurrent execution ceiling per agent")
	cmd.Flags().String("queue-policy", string(defaults.QueuePolicy), "queue or reject when the ceiling is hit")
	cmd.Flags().Duration("step-timeout", defaults.StepTimeout, "per step attempt timeout")
	cmd.Flags().Int("max-step-retries", defaults.MaxStepRetries, "attempts per transient step failure")
	cmd.Flags().Duration("retry-backoff", defaults.RetryBackoff, "base backoff between step attempts")
	cmd.Flags().Duration("dispatch-interval", defaults.DispatchInterval, "queued execution dispatch interval")
	cmd.Flags().Duration("approval-ttl", defaults.ApprovalTTL, "pending approval expiration")
	cmd.Flags().Duration("sweep-interval", defaults.SweepInterval, "expired approval sweep interval")
	cmd.Flags().String("audit-file", "", "optional json lines audit trail file")
	cmd.Flags().Int("metrics-window-days", defaults.DefaultWindowDays, "default metrics window in days")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.ExecutorPoolSize = viper.GetInt("executor-pool-size")
	c.cfg.ExecutorCapacity = viper.GetInt("executor-capacity")
	c.cfg.MaxConcurrentPerAgent = viper.GetInt("max-concurrent-per-agent")
	c.cfg.QueuePolicy = config.QueuePolicy(viper.GetString("queue-policy"))
	c.cfg.StepTimeout = viper.GetDuration("step-timeout")
	c.cfg.MaxStepRetries = viper.GetInt("max-step-retries")
	c.cfg.RetryBackoff = viper.GetDuration("retry-backoff")
	c.cfg.DispatchInterval = viper.GetDuration("dispatch-interval")
	c.cfg.ApprovalTTL = viper.GetDuration("approval-ttl")
	c.cfg.SweepInterval = viper.GetDuration("sweep-interval")
	c.cfg.AuditFile = viper.GetString("audit-file")
	c.cfg.DefaultWindowDays = viper.GetInt("metrics-window-days")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger.Init(c.cfg.LogLevel)
	defer logger.Sync()

	eng, err := engine.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	if err = eng.Start(); err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return eng.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "agentflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
