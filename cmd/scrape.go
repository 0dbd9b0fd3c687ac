package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"vic_tracker/internal/app"
)

var (
	scrapeAuthor string
	scrapeUserID string
	scrapeSample int
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeAuthor, "author", "", "scrape this author only; nothing is stored")
	scrapeCmd.Flags().StringVar(&scrapeUserID, "user-id", "", "profile user id for --author")
	scrapeCmd.Flags().IntVar(&scrapeSample, "sample", 2, "idea pages to enrich with --author")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--author <name> --user-id <id> [--sample N]]",
	Short: "Scrapes the next author in the queue, or one named author as a dry run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scrapeAuthor != "" && scrapeUserID == "" {
			return eris.New("--user-id is required with --author")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		if scrapeAuthor != "" {
			res, err := a.Coordinator().ScrapeAuthor(cmd.Context(), scrapeAuthor, scrapeUserID, scrapeSample)
			if err != nil {
				return withSessionHint(err)
			}
			renderIdeas(os.Stdout, res)
			return nil
		}

		res, err := a.RunScrape(cmd.Context())
		if res != nil {
			renderResult(os.Stdout, res)
		}
		return withSessionHint(err)
	},
}

func withSessionHint(err error) error {
	if err != nil && app.IsSessionError(err) {
		return eris.Wrap(err, "import fresh cookies with `vic-tracker session import <cookies.json>`")
	}
	return err
}
