package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-clothing-orderflow/internal/aws"
)

// dynamoFactory builds the DynamoDB client commands write through.
type dynamoFactory func(ctx context.Context) (aws.DynamoDBAPI, error)

func newRootCmd(dynamo dynamoFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shopctl",
		Short:         "Administer the clothing orderflow tables",
		Long:          "shopctl seeds the item and customer tables used by the orderflow API and worker.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSeedCmd(dynamo))
	return cmd
}

// NewRootCmdForTest returns the root command writing through client.
func NewRootCmdForTest(client aws.DynamoDBAPI) *cobra.Command {
	return newRootCmd(func(context.Context) (aws.DynamoDBAPI, error) { return client, nil })
}

func Execute() error {
	return newRootCmd(func(ctx context.Context) (aws.DynamoDBAPI, error) {
		clients, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, err
		}
		return clients.DynamoDB, nil
	}).Execute()
}
