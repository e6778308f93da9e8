// Command pinpack runs one content-pack pipeline from the terminal and writes
// the resulting images and pack metadata to a directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/infra"
	"pinstrategy/internal/pipeline"
	"pinstrategy/internal/providers/genai"
	"pinstrategy/internal/storage"
)

type imageList []string

func (l *imageList) String() string { return strings.Join(*l, ",") }

func (l *imageList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command and returns the process exit code: 2 for usage
// errors, 1 for run failures.
func run(args []string, stdout, stderr io.Writer) int {
	var (
		images      imageList
		description string
		outDir      string
		research    bool
		vertical    int
		seo         string
		style       string
		audience    string
		timeout     time.Duration
	)
	def := domain.DefaultSettings()
	fs := flag.NewFlagSet("pinpack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(&images, "image", "Product image file (repeatable)")
	fs.StringVar(&description, "description", "", "Product description")
	fs.StringVar(&outDir, "out", "./pinpack-out", "Output directory")
	fs.BoolVar(&research, "research", def.EnableWebResearch, "Ground prompt drafting in web search")
	fs.IntVar(&vertical, "vertical", def.VerticalCount, "How many pins use the 9:16 layout (0-3)")
	fs.StringVar(&seo, "seo", string(def.SEOIntensity), "SEO intensity: minimal, balanced, aggressive")
	fs.StringVar(&style, "style", string(def.VisualStyle), "Visual style: minimal, lifestyle, luxury, informational")
	fs.StringVar(&audience, "audience", string(def.AudienceFocus), "Audience: buyers, browsers, diy_users, professionals")
	fs.DurationVar(&timeout, "timeout", 15*time.Minute, "Overall run timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	infra.LoadDotEnv()
	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "pinpack").Logger()

	settings, err := domain.NewSettings(research, vertical, seo, style, audience)
	if err != nil {
		fmt.Fprintf(stderr, "invalid settings: %v\n", err)
		return 2
	}
	inputs, err := readInputs(images, description)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	client, err := genai.NewClient(genai.Options{
		APIKey:     os.Getenv("GEMINI_API_KEY"),
		BaseURL:    os.Getenv("GEMINI_BASE_URL"),
		TextModel:  os.Getenv("GEMINI_TEXT_MODEL"),
		ImageModel: os.Getenv("GEMINI_IMAGE_MODEL"),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Logger:     &logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "gemini client: %v\n", err)
		return 1
	}
	if client.Synthetic() {
		fmt.Fprintln(stderr, "GEMINI_API_KEY not set, using the offline synthetic generator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	controller := pipeline.NewController(client, pipeline.WithLogger(logger))
	pipelineRun, err := controller.Start(ctx, inputs, settings)
	if err != nil {
		fmt.Fprintf(stderr, "start: %v\n", err)
		return 2
	}
	for st := range pipelineRun.States() {
		printState(stdout, st)
	}

	packs, err := pipelineRun.Wait()
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			fmt.Fprintf(stderr, "run failed during %s: %v\n", stageErr.Stage.Label(), stageErr.Err)
		} else {
			fmt.Fprintf(stderr, "run failed: %v\n", err)
		}
		return 1
	}

	if err := writePacks(ctx, outDir, pipelineRun.ID(), pipelineRun.ProductLock(), packs); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%d pins written to %s\n", len(packs), outDir)
	return 0
}

func readInputs(paths []string, description string) (domain.RawInputs, error) {
	inputs := domain.RawInputs{Description: description}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return domain.RawInputs{}, fmt.Errorf("read image %s: %w", p, err)
		}
		inputs.Images = append(inputs.Images, domain.Image{MIME: http.DetectContentType(data), Data: data})
	}
	return inputs, nil
}

func printState(w io.Writer, st domain.ProcessState) {
	switch {
	case st.Error != "":
		fmt.Fprintf(w, "[%3d%%] %s: %s\n", st.ProgressPercent, st.Stage.Label(), st.Error)
	case st.SubStatus != "":
		fmt.Fprintf(w, "[%3d%%] %s\n", st.ProgressPercent, st.SubStatus)
	default:
		fmt.Fprintf(w, "[%3d%%] %s\n", st.ProgressPercent, st.Stage.Label())
	}
}

type packFile struct {
	RunID       string               `json:"run_id"`
	ProductLock domain.ProductLock   `json:"product_lock"`
	Packs       []domain.ContentPack `json:"packs"`
}

func writePacks(ctx context.Context, dir, runID string, lock domain.ProductLock, packs []domain.ContentPack) error {
	files, err := storage.NewFileStore(dir, "")
	if err != nil {
		return err
	}
	for i := range packs {
		key := storage.PackImageKey(runID, i, packs[i].Image.MimeType())
		if _, err := files.Write(ctx, key, packs[i].Image.Data); err != nil {
			return err
		}
		packs[i].ImageURL = filepath.ToSlash(key)
	}
	data, err := json.MarshalIndent(packFile{RunID: runID, ProductLock: lock, Packs: packs}, "", "  ")
	if err != nil {
		return err
	}
	_, err = files.Write(ctx, filepath.ToSlash(filepath.Join("packs", runID, "packs.json")), data)
	return err
}
