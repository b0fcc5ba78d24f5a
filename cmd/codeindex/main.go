package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Arlen1017012857/code-index/internal/chunker"
	"github.com/Arlen1017012857/code-index/internal/config"
	"github.com/Arlen1017012857/code-index/internal/embedding"
	"github.com/Arlen1017012857/code-index/internal/index"
	"github.com/Arlen1017012857/code-index/internal/tui"
	"github.com/Arlen1017012857/code-index/internal/vectorstore"
	"github.com/Arlen1017012857/code-index/internal/watcher"
)

const defaultModelName = "bge-small-en-v1.5"

func main() {
	root := &cobra.Command{
		Use:   "codeindex",
		Short: "Hybrid dense+sparse semantic code search",
		Long:  "codeindex — offline hybrid (dense+sparse) semantic code search over a directory tree, powered by BGE-small-en-v1.5, a hashed sparse index, and HNSW.",
	}

	cfg := config.Load(".codeindex.toml")

	var modelDir string
	var ortLib string
	var numThreads int
	var maxFileKB int
	root.PersistentFlags().StringVar(&modelDir, "model-dir", cfg.ModelDir, "directory containing ONNX model + tokenizer files")
	root.PersistentFlags().StringVar(&ortLib, "ort-lib", cfg.OrtLib, "path to onnxruntime.so (auto-detected if empty)")
	root.PersistentFlags().IntVar(&numThreads, "threads", cfg.Threads, "ONNX intra-op thread count (0 = auto)")
	root.PersistentFlags().IntVar(&maxFileKB, "max-file-kb", cfg.MaxFileKB, "skip indexing files larger than this (in KB)")

	resolveOrtLib := func(flag string) string {
		if flag != "" {
			return flag
		}
		if exe, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(exe), "lib", "onnxruntime.so")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		if _, err := os.Stat(cfg.OrtLib); err == nil {
			absPath, _ := filepath.Abs(cfg.OrtLib)
			return absPath
		}
		return ""
	}

	// openIndex loads the embedding model and opens a fresh HybridIndex over
	// dir. Search state lives only for the life of this process: the index
	// is held in an in-memory vectorstore.Memory and nothing is written to
	// disk.
	openIndex := func(dir string) (*index.HybridIndex, error) {
		fmt.Fprint(os.Stderr, "Loading model… ")
		dense, err := embedding.NewDenseONNX(modelDir, resolveOrtLib(ortLib), numThreads)
		if err != nil {
			fmt.Fprintln(os.Stderr, "")
			return nil, err
		}
		fmt.Fprintln(os.Stderr, "ready.")

		counter := chunker.NewTokenCounter(defaultModelName, map[string]string{
			defaultModelName: filepath.Join(modelDir, "tokenizer.json"),
		})

		opts := chunker.DefaultOptions()
		opts.TargetChunkTokens = cfg.TargetTokens
		opts.MaxChunkTokens = cfg.MaxChunkTokens

		idx, err := index.Open(index.Config{
			RootPath:  dir,
			Dense:     dense,
			Sparse:    embedding.NewSparseHashed(),
			Store:     vectorstore.NewMemory(),
			Counter:   counter,
			ChunkOpts: opts,
			MaxFileKB: maxFileKB,
		})
		if err != nil {
			dense.Close()
			counter.Close()
			return nil, err
		}
		return idx, nil
	}

	// ---- codeindex index <dir> ---------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "index <dir>",
		Short: "Index every supported file under dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			idx, err := openIndex(args[0])
			if err != nil {
				return err
			}
			defer idx.Close()

			fmt.Fprintf(os.Stderr, "Scanning %s…\n", args[0])
			if err := idx.IndexFiles(ctx); err != nil {
				if isInterrupted(err) {
					fmt.Fprintln(os.Stderr, "\nInterrupted.")
					return nil
				}
				return err
			}
			s := idx.Stats()
			fmt.Fprintf(os.Stderr, "Done. %d chunks from %d files indexed.\n", s.Chunks, s.Files)
			return nil
		},
	})

	// ---- codeindex search <dir> <query> ------------------------------------
	var jsonExport bool
	searchCmd := &cobra.Command{
		Use:   "search <dir> <query>",
		Short: "Index dir, then run a single hybrid search against it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			query := strings.Join(args[1:], " ")

			ctx := context.Background()
			idx, err := openIndex(dir)
			if err != nil {
				return err
			}
			defer idx.Close()

			if err := idx.IndexFiles(ctx); err != nil {
				return err
			}

			hits, err := idx.Search(ctx, query, 10)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				if jsonExport {
					fmt.Println("[]")
				} else {
					fmt.Println("no results")
				}
				return nil
			}
			if jsonExport {
				j, err := json.MarshalIndent(hits, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal json: %w", err)
				}
				fmt.Println(string(j))
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%2d  %.3f  %s:%d\n    %s\n\n",
					i+1, h.Score, h.Path, h.Metadata.StartLine, h.Text)
			}
			return nil
		},
	}
	searchCmd.Flags().BoolVar(&jsonExport, "json", false, "output search results as JSON")
	root.AddCommand(searchCmd)

	// ---- codeindex watch <dir> ----------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "watch <dir>",
		Short: "Index dir, then watch it for changes until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			idx, err := openIndex(args[0])
			if err != nil {
				return err
			}
			defer idx.Close()

			fmt.Fprintf(os.Stderr, "Scanning %s…\n", args[0])
			if err := idx.IndexFiles(ctx); err != nil {
				return err
			}
			s := idx.Stats()
			fmt.Fprintf(os.Stderr, "Done. %d chunks indexed. Watching for changes… (Ctrl+C to stop)\n", s.Chunks)

			w, err := watcher.New(idx)
			if err != nil {
				return err
			}
			watcher.InstallSignalHandlers(stop)
			return w.Watch(ctx, args[0])
		},
	})

	// ---- codeindex tui <dir> -------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "tui <dir>",
		Short: "Index dir, then launch the interactive search interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(args[0])
			if err != nil {
				return err
			}
			defer idx.Close()

			if err := idx.IndexFiles(context.Background()); err != nil {
				return err
			}

			m := tui.New(idx)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	})

	// ---- codeindex stats <dir> -----------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats <dir>",
		Short: "Index dir and print chunk/file counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex(args[0])
			if err != nil {
				return err
			}
			defer idx.Close()

			if err := idx.IndexFiles(context.Background()); err != nil {
				return err
			}
			s := idx.Stats()
			fmt.Printf("chunks: %d\n", s.Chunks)
			fmt.Printf("files:  %d\n", s.Files)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// isInterrupted returns true if err indicates a context cancellation or deadline.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
