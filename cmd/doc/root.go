package doc

import (
	"io"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcStore store.IStore

	// DocCommands represents the document command group
	DocCommands = &cobra.Command{
		Use:               "doc",
		Short:             "Perform document store operations",
		PersistentPreRunE: setupDocClient,
		PersistentPostRun: closeDocClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the doc command
	util.SetupRPCClientFlags(DocCommands)
	DocCommands.PersistentFlags().String("log-level", "warn", util.WrapString("LogLevel of the client (debug, info, warn, error)"))

	// Add subcommands
	DocCommands.AddCommand(insertCmd)
	DocCommands.AddCommand(updateCmd)
	DocCommands.AddCommand(deleteCmd)
	DocCommands.AddCommand(findCmd)
	DocCommands.AddCommand(findOneCmd)
	DocCommands.AddCommand(collectionsCmd)
	DocCommands.AddCommand(perfTestCmd)
}

// setupDocClient initializes the RPC store client
func setupDocClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	config := util.GetClientConfig()

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	// Create the store client
	rpcStore, err = client.NewRPCStore(*config, t)
	return err
}

// closeDocClient releases the connections of the RPC store client
func closeDocClient(_ *cobra.Command, _ []string) {
	if c, ok := rpcStore.(io.Closer); ok {
		_ = c.Close()
	}
}
