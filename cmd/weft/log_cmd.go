package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"weft/internal/clock"
	"weft/internal/epoch"
	"weft/internal/repo"
	"weft/internal/worktree"
)

func init() {
	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the operation journal",
		Long:  `Prints every journaled operation with its append time, oldest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			defer r.Close()

			records, err := r.Journal().Records()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("The journal is empty.")
				return nil
			}
			for _, rec := range records {
				fmt.Printf("%s  %s\n", rec.RecordedAt.Local().Format(time.DateTime), describeEnvelope(rec.Envelope))
			}
			return nil
		},
	}
	rootCmd.AddCommand(logCmd)
}

func describeEnvelope(envelope worktree.OperationEnvelope) string {
	switch {
	case envelope.IsEpochReset():
		if envelope.EpochHead != nil {
			return fmt.Sprintf("epoch start on snapshot %s", envelope.EpochHead)
		}
		return "epoch start on an empty tree"
	case envelope.Location != nil:
		return fmt.Sprintf("location update by %s", shortReplica(envelope.Location.Replica))
	}
	switch op := envelope.Operation.(type) {
	case *epoch.InsertMetadataOperation:
		return fmt.Sprintf("create %s by %s", op.FileType, shortReplica(op.Replica()))
	case *epoch.UpdateParentOperation:
		if op.NewParent == nil {
			return fmt.Sprintf("remove file by %s", shortReplica(op.Replica()))
		}
		return fmt.Sprintf("move file by %s", shortReplica(op.Replica()))
	case *epoch.BufferOperation:
		if op.SelectionsOnly() {
			return fmt.Sprintf("selection update by %s", shortReplica(op.Replica()))
		}
		return fmt.Sprintf("text edit by %s", shortReplica(op.Replica()))
	}
	return "operation"
}

func shortReplica(replica clock.ReplicaId) string {
	return replica.String()[:8]
}
