package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/blobd/pkg/facade"
	"github.com/jacktea/blobd/pkg/jobindex"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:           "blobd",
		Short:         "content-addressed BLOB cache service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	rootCmd.AddCommand(newServeCmd(), newProxyCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blobd")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "blobd"))
		}
	}
	viper.SetEnvPrefix("BLOBD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")
	rootCmd.PersistentFlags().String("directory", "", "base directory for the storage folder (default: OS temp dir)")
	rootCmd.PersistentFlags().Int("port", 7070, "default port to listen on")
	bindConfig("blob-service.directory", rootCmd.PersistentFlags().Lookup("directory"))
	bindConfig("blob-service.port", rootCmd.PersistentFlags().Lookup("port"))
}

func newServeCmd() *cobra.Command {
	var jobIndexPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the authoritative server role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(jobIndexPath)
		},
	}
	cmd.Flags().StringVar(&jobIndexPath, "job-index", "", "path to the embedded job-index database (disabled if unset)")
	return cmd
}

func newProxyCmd() *cobra.Command {
	var serverAddr string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "run the read-through proxy role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverAddr == "" {
				return errors.New("proxy: --server is required")
			}
			return runProxy(serverAddr)
		},
	}
	cmd.Flags().StringVar(&serverAddr, "server", "", "authoritative server address (host:port)")
	return cmd
}

func runServe(jobIndexPath string) error {
	addr := listenAddr()
	storageDir := viper.GetString("blob-service.directory")

	var index *jobindex.Index
	if jobIndexPath != "" {
		idx, err := jobindex.Open(jobIndexPath)
		if err != nil {
			return fmt.Errorf("open job index: %w", err)
		}
		index = idx
	}

	if err := facade.InitServer(addr, storageDir, index); err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	log.Printf("blobd: serving on %s (storage %s)", addr, storageDir)

	waitForShutdownSignal()
	log.Printf("blobd: shutting down")
	return facade.Shutdown()
}

func runProxy(serverAddr string) error {
	storageDir := viper.GetString("blob-service.directory")

	if err := facade.InitProxy(serverAddr, storageDir); err != nil {
		return fmt.Errorf("init proxy: %w", err)
	}
	log.Printf("blobd: proxying to %s (cache %s)", serverAddr, storageDir)

	waitForShutdownSignal()
	log.Printf("blobd: shutting down")
	return facade.Shutdown()
}

func listenAddr() string {
	port := viper.GetInt("blob-service.port")
	if port <= 0 {
		port = 7070
	}
	return ":" + strconv.Itoa(port)
}

func waitForShutdownSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
