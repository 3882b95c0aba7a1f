package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"wikirag/internal/prompt"
	"wikirag/internal/retriever"
	"wikirag/internal/service"
	"wikirag/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the indexed wiki",
	Long:  `Opens an interactive session that answers questions from the index.`,
	RunE: func(*cobra.Command, []string) error {
		store, err := buildStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		embedder, err := buildEmbedder(cfg)
		if err != nil {
			return err
		}
		generator, err := buildGenerator(cfg)
		if err != nil {
			return err
		}

		r := retriever.New(embedder, store, buildRetryPolicy(cfg), cfg.Retrieval.TopK, cfg.Retrieval.MinScore)
		assembler := prompt.NewAssembler(cfg.Retrieval.ContextTokenBudget, cfg.Retrieval.HistoryTokenBudget)
		session := service.NewSession(r, assembler, generator, log)
		log.Infow("chat session started", "session", session.ID)

		program := tea.NewProgram(tui.New(session), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("run chat ui: %w", err)
		}
		return nil
	},
}
