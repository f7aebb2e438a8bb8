package cli

import (
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prl900/bandstack/export"
	"github.com/prl900/bandstack/internal/config"
	"github.com/prl900/bandstack/internal/logging"
	"github.com/prl900/bandstack/pipeline"
	"github.com/prl900/bandstack/preview"
	"github.com/prl900/bandstack/rastreader"
)

var (
	submit       bool
	previewBand  string
	previewWidth int
	previewOut   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the composite and describe its export job",
	Long: `Run selects, reduces and harmonizes every configured source and stacks
the result. With --submit the composite is written to the catalog store as
one snappy tile per band plus a JSON manifest; this requires format "SNP".`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate the configuration and print the grid, queries and export job",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Build the composite and write a Web-Mercator PNG quicklook",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

func init() {
	runCmd.Flags().BoolVar(&submit, "submit", false, "write the composite to the catalog store")
	previewCmd.Flags().StringVarP(&previewBand, "band", "b", "RGB", "band to render, or RGB for true colour")
	previewCmd.Flags().IntVarP(&previewWidth, "width", "w", 512, "image width in pixels")
	previewCmd.Flags().StringVarP(&previewOut, "out", "o", "preview.png", "output file")
}

// build loads the configuration and opens the store behind the pipeline.
func build(cmd *cobra.Command) (*config.Config, *pipeline.Pipeline, rastreader.Store, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	store, closeStore, err := cfg.OpenStore(cmd.Context())
	if err != nil {
		return nil, nil, nil, nil, err
	}
	p, err := cfg.Pipeline(cfg.NewCatalog(store, logging.Logger), logging.Logger)
	if err != nil {
		closeStore()
		return nil, nil, nil, nil, err
	}
	return cfg, p, store, closeStore, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, p, store, closeStore, err := build(cmd)
	if err != nil {
		return err
	}
	defer closeStore()
	if submit {
		p.Sink = rastreader.NewSink(store, logging.Logger)
	}
	req, err := cfg.Request()
	if err != nil {
		return err
	}
	res, err := p.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Composite %s on %v\n", strings.Join(res.Composite.Names(), ","), res.Composite.Grid())
	for _, s := range p.Sources {
		fmt.Fprintf(w, "  %-10s %d scenes\n", s.Name, res.Scenes[s.Name])
	}
	if res.Job.ID != "" {
		printJob(w, res.Job)
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// planning never reads the store
	p, err := cfg.Pipeline(nil, logging.Logger)
	if err != nil {
		return err
	}
	req, err := cfg.Request()
	if err != nil {
		return err
	}
	plan, err := p.Plan(req)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Grid %v (%d pixels per band)\n", plan.Grid, plan.Grid.PixelCount())
	for _, q := range plan.Queries {
		when := q.Dates.String()
		if q.Static {
			when = "static"
		}
		fmt.Fprintf(w, "  %-10s %s %s bands=%s filters=[%s]\n", q.Source, q.CatalogID, when,
			strings.Join(q.Bands, ","), strings.Join(q.FilterNames(), ", "))
	}
	if plan.Job.ID != "" {
		printJob(w, plan.Job)
	}
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, p, _, closeStore, err := build(cmd)
	if err != nil {
		return err
	}
	defer closeStore()
	req, err := cfg.Request()
	if err != nil {
		return err
	}
	req.Destination = export.Destination{}
	res, err := p.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	f, err := os.Create(previewOut)
	if err != nil {
		return err
	}
	defer f.Close()
	var img image.Image
	if previewBand == "RGB" {
		style := preview.Styles["Red"]
		img, err = preview.RGB(res.Composite, previewWidth, style.Min, style.Max)
	} else {
		img, err = preview.Band(res.Composite, previewBand, previewWidth)
	}
	if err != nil {
		return err
	}
	if err := preview.WritePNG(f, img); err != nil {
		return err
	}
	logging.Logger.Info("Preview written", zap.String("band", previewBand), zap.String("file", previewOut))
	return f.Close()
}

func printJob(w io.Writer, job export.Job) {
	fmt.Fprintf(w, "Export job %s\n", job.ID)
	fmt.Fprintf(w, "  description %s\n", job.Description)
	fmt.Fprintf(w, "  destination %s/%s (%s)\n", job.Folder, job.FilePrefix, job.Format)
	fmt.Fprintf(w, "  scale %gm crs %s size %dx%d max pixels %d\n", job.Scale, job.CRS, job.Width, job.Height, job.MaxPixels)
	fmt.Fprintf(w, "  bands %s\n", strings.Join(job.Bands, ","))
}
