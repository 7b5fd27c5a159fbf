package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/agrospeak/agrospeak/internal/message"
	grpctransport "github.com/agrospeak/agrospeak/internal/transport/grpc"
	httptransport "github.com/agrospeak/agrospeak/internal/transport/http"
)

type askOptions struct {
	language  string
	session   string
	audioFile string
	location  string
	server    string
	asJSON    bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question by text or audio file",
		Long: `Runs a single turn and prints the reply.

Without --server the turn runs in-process using the configured backends.
With --server it is sent to a running daemon's gRPC transport.`,
		Example: `  agrospeak ask --language Bemba "Will it rain tomorrow?"
  agrospeak ask --audio question.wav --location -15.39,28.32
  agrospeak ask --server localhost:50051 "maize prices"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request(args)
			if err != nil {
				return err
			}

			var res *message.TurnResult
			if opts.server != "" {
				res, err = askRemote(cmd.Context(), opts.server, req)
			} else {
				res, err = askLocal(cmd.Context(), root, req)
			}
			if err != nil {
				return err
			}
			return printResult(cmd, res, opts.asJSON)
		},
	}
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "language preference (default from config)")
	cmd.Flags().StringVar(&opts.session, "session", "", "session id (default: a new random id)")
	cmd.Flags().StringVar(&opts.audioFile, "audio", "", "WAV file to transcribe instead of text")
	cmd.Flags().StringVar(&opts.location, "location", "", "lat,lon of the farm")
	cmd.Flags().StringVar(&opts.server, "server", "", "gRPC address of a running daemon")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full turn result as JSON")
	return cmd
}

func (o *askOptions) request(args []string) (*message.TurnRequest, error) {
	req := &message.TurnRequest{
		SessionID:    o.session,
		Text:         strings.TrimSpace(strings.Join(args, " ")),
		Language:     o.language,
		ResponseMode: message.ResponseModeText,
	}
	if req.SessionID == "" {
		req.SessionID = "cli-" + uuid.NewString()
	}
	if o.audioFile != "" {
		audio, err := os.ReadFile(o.audioFile)
		if err != nil {
			return nil, fmt.Errorf("reading audio: %w", err)
		}
		req.Audio = audio
		req.ContentType = "audio/wav"
		req.Text = ""
	}
	if o.location != "" {
		loc, err := httptransport.ParseLocation(o.location)
		if err != nil {
			return nil, err
		}
		req.Location = loc
	}
	if req.Text == "" && !req.HasAudio() {
		return nil, fmt.Errorf("give a question or --audio")
	}
	return req, nil
}

func askLocal(ctx context.Context, root *rootOptions, req *message.TurnRequest) (*message.TurnResult, error) {
	cfg, err := root.load()
	if err != nil {
		return nil, err
	}
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.dispatcher.Converse(ctx, req)
}

func askRemote(ctx context.Context, addr string, req *message.TurnRequest) (*message.TurnResult, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()
	return grpctransport.NewClient(conn).Converse(ctx, req)
}

func printResult(cmd *cobra.Command, res *message.TurnResult, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "you:       %s\n", res.User.Text)
	fmt.Fprintf(out, "agrospeak: %s\n", res.Response.Text)
	fmt.Fprintf(out, "(%s, %s route, %s)\n", res.Intent, res.Route, res.Language)
	for _, d := range res.Degradations {
		fmt.Fprintf(out, "degraded:  %s (%s)\n", d.Stage, d.Reason)
	}
	return nil
}
