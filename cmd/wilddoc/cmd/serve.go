package cmd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve wd: template evaluation over HTTP (thin wrapper, not the core)",
	Long: `serve is a minimal transport front door, kept deliberately thin:
one handler, one Engine, no routing framework, no auth, no TLS. Transport
is not the evaluator's concern, so it doesn't try to be more than that.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8787", "address to listen on")
}

type renderRequest struct {
	Template string          `json:"template"`
	Input    json.RawMessage `json:"input"`
}

func runServe(c *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	log := logger()

	mux := http.NewServeMux()
	mux.HandleFunc("/render", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req renderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		body, _, err := eng.Run(r.Context(), []byte(req.Template), req.Input)
		if err != nil {
			log.Error("render failed", "error", err)
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(body)
	})

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("serving", "addr", serveAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
