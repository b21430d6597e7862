package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/materials-commons/tapehsm/pkg/config"
	"github.com/materials-commons/tapehsm/pkg/hsmclient"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	keyFile   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tapehsm",
	Short: "Client for the tape HSM daemon",
	Long: `Migrates files to tape, recalls them, and shows what the daemon is doing.
Settings are read from ~/.tapehsm.env (TAPEHSM_URL, TAPEHSM_KEY_FILE) unless given as flags.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "daemon address (default is $TAPEHSM_URL or http://localhost:7450)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key-file", "", "file holding the daemon key (default is $TAPEHSM_KEY_FILE)")
}

func newClient() (*hsmclient.Client, error) {
	c := config.NewDotenvConfig("")
	if envPath, err := homedir.Expand("~/.tapehsm.env"); err == nil {
		if _, err := os.Stat(envPath); err == nil {
			if err := c.LoadFromPath(envPath); err != nil {
				return nil, errors.Wrapf(err, "unable to read %s", envPath)
			}
		}
	}

	url := serverURL
	if url == "" {
		url = c.GetKeyWithDefault("TAPEHSM_URL", "http://localhost:7450")
	}

	path := keyFile
	if path == "" {
		path = c.GetKey("TAPEHSM_KEY_FILE")
	}

	key, err := readKey(path)
	if err != nil {
		return nil, err
	}

	return hsmclient.New(url, key), nil
}

func readKey(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read key file")
	}

	return strings.TrimSpace(string(b)), nil
}

func exitWithError(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
