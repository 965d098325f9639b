package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "voiceprobe",
		Short:         "Send audio to a voice relay and capture the reply",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSendCmd())
	return root
}

func newSendCmd() *cobra.Command {
	opts := sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Stream a WAV file as one utterance and save the reply",
		Long: `Stream a WAV file to the relay as binary chunks, then wait for the reply.

By default the relay's silence timer ends the utterance. With --commit the
probe sends an explicit commit control message after the last chunk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := runSend(cmd.Context(), opts)
			if err != nil {
				return err
			}
			res.print(cmd.OutOrStdout(), opts.out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8888/", "Relay websocket URL")
	f.StringVarP(&opts.file, "file", "f", "", "WAV file to send (required)")
	f.StringVarP(&opts.out, "out", "o", "reply.wav", "Where to write the reply WAV")
	f.IntVar(&opts.chunkBytes, "chunk-bytes", 4096, "Bytes per binary chunk")
	f.DurationVar(&opts.interval, "interval", 20*time.Millisecond, "Delay between chunks")
	f.BoolVar(&opts.commit, "commit", false, "Send a commit control after the last chunk")
	f.DurationVar(&opts.wait, "wait", 60*time.Second, "Maximum time to wait for the first reply frame")
	f.DurationVar(&opts.quiet, "quiet", 1500*time.Millisecond, "Reply is complete after this long without frames")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
