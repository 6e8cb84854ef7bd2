package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"novelarr/internal/domain"
	"novelarr/internal/fetch"
	"novelarr/internal/files"
	"novelarr/internal/images"
	"novelarr/internal/parse"
	"novelarr/internal/sanitize"
	"novelarr/internal/sharedhttp"
	"novelarr/internal/templater"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download specified chapters of a novel",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
		defer stop()

		if !cmd.Flags().Changed("first") && !cmd.Flags().Changed("chapters") {
			latest = true
		}

		a, err := newApp()
		if err != nil {
			fmt.Println("Failed to start:", err)
			return
		}
		defer a.close()

		if err := files.IsValidLocation(a.cfg.Config.DownloadLocation); err != nil {
			fmt.Println("Invalid location:", err)
			return
		}

		if naming == "" {
			naming = a.cfg.Config.NamingTemplate
		}

		prov, err := a.provider(providerName)
		if err != nil {
			fmt.Println("Invalid provider:", err)
			return
		}

		if err := a.ensureSession(ctx, prov); err != nil {
			fmt.Printf("Failed to log in to %q: %v\n", prov.Name(), err)
			return
		}

		selectedNovel, err := prov.NovelInfo(ctx, novel)
		if err != nil {
			fmt.Printf("Failed to get novel from %q: %v\n", prov.Name(), err)
			return
		}

		volumes, err := prov.Chapters(ctx, novel)
		if err != nil {
			fmt.Printf("Failed to get chapters for %q: %v\n", selectedNovel.Title, err)
			return
		}

		availableChapters := make(map[int]domain.ChapterRef)
		for _, vol := range volumes {
			for _, ch := range vol.Chapters {
				availableChapters[ch.Ordinal] = ch
			}
		}

		var selectedChapterNumbers []int

		firstChapterNr, latestChapterNr, err := parse.GetMinAndMaxKeys(availableChapters)
		if err != nil {
			fmt.Printf("Failed to parse chapter number for %q: %v\n", selectedNovel.Title, err)
			return
		}

		switch {
		case first:
			selectedChapterNumbers = firstChapterNr
		case latest:
			selectedChapterNumbers = latestChapterNr
		default:
			selectedChapterNumbers, err = parse.ChapterSelection(chapterNumbers, availableChapters)
			if err != nil {
				fmt.Printf("Failed to parse chapter selection for %q: %v\n", selectedNovel.Title, err)
				return
			}
		}

		if len(selectedChapterNumbers) == 0 {
			fmt.Printf("Failed to find matching chapters in range %s for %q\n", chapterNumbers, selectedNovel.Title)
			return
		}

		novelDir := filepath.Join(a.cfg.Config.DownloadLocation, sanitize.Filename(selectedNovel.Title))

		if selectedNovel.CoverURL != "" {
			if err := fetchCover(ctx, selectedNovel.CoverURL, novelDir); err != nil {
				a.log.Warn().Err(err).Msg("failed to download cover")
			}
		}

		// skip chapters that are already on disk before touching the network
		var refs []domain.ChapterRef
		for _, num := range selectedChapterNumbers {
			ref := availableChapters[num]

			t := templater.New(*selectedNovel, ref)
			templatedName := t.ExecTemplate(naming)

			contentPath := filepath.Join(novelDir, sanitize.Filename(templatedName)+".txt")
			if _, err := os.Stat(contentPath); err == nil {
				fmt.Printf("Chapter has already been downloaded, skipping %q\n", templatedName)
				continue
			}

			refs = append(refs, ref)
		}
		if len(refs) == 0 {
			return
		}

		orchestrator := fetch.NewOrchestrator(prov, a.cache, a.sessions, a.log, fetch.Options{
			ImageWorkers: a.cfg.Config.ImageWorkers,
			MaxAttempts:  a.cfg.Config.MaxAttempts,
			RateLimit:    time.Duration(a.cfg.Config.RateLimitMs) * time.Millisecond,
		})

		fmt.Printf("Downloading %d chapters of %q...\n", len(refs), selectedNovel.Title)
		results := orchestrator.FetchChapters(ctx, refs)

		var failed int
		for _, res := range results {
			t := templater.New(*selectedNovel, res.Ref)
			templatedName := t.ExecTemplate(naming)

			if !res.OK() {
				failed++
				fmt.Printf("Failed to download chapter %q: %v\n", templatedName, res.Err)
				continue
			}

			if err := files.WriteChapter(novelDir, templatedName, res.Content, res.Images); err != nil {
				failed++
				fmt.Printf("Failed to write chapter %q: %v\n", templatedName, err)
				continue
			}

			fmt.Printf("Finished downloading %q\n", templatedName)
		}

		if pdf {
			pdfPath := filepath.Join(novelDir, sanitize.Filename(selectedNovel.Title)+" Illustrations.pdf")
			if err := files.CreateIllustrationPDF(filepath.Join(novelDir, "images"), pdfPath); err != nil {
				fmt.Println("Failed to create illustration pdf:", err)
			}
		}

		if archive {
			zipPath := novelDir + ".zip"
			if err := files.CreateArchive(novelDir, zipPath); err != nil {
				fmt.Println("Failed to create archive:", err)
			}
		}

		if failed > 0 {
			fmt.Printf("Finished with %d of %d chapters failed\n", failed, len(results))
		}
	},
}

// fetchCover downloads the novel cover next to the chapters.
func fetchCover(ctx context.Context, coverURL, novelDir string) error {
	coverPath := filepath.Join(novelDir, "cover.jpg")
	if _, err := os.Stat(coverPath); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return err
	}
	sharedhttp.ApplyHeaders(req, sharedhttp.ProfileImage)

	client := sharedhttp.NewClient(nil, 60*time.Second)
	raw, err := client.DoBody(ctx, req, 3)
	if err != nil {
		return err
	}

	data, err := images.Reencode(raw)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(novelDir, os.ModePerm); err != nil {
		return err
	}

	return os.WriteFile(coverPath, data, 0o644)
}
