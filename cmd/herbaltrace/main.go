package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shreyes-7/AyurTrack-sub001/internal/config"
	"github.com/shreyes-7/AyurTrack-sub001/internal/mirror"
	"github.com/shreyes-7/AyurTrack-sub001/internal/service"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

var rootCmd = &cobra.Command{
	Use:   "herbaltrace",
	Short: "HerbalTrace off-chain CLI",
	Long: `HerbalTrace records the journey of Ayurvedic herbs from harvest to product.
- Participants: farmers, processors, labs and manufacturers, each bound to one organization (MSP).
- Collections: a farmer's harvest opens a herb batch, checked against the species geofence, season and quality rules.
- Processing steps and quality tests move a batch along collected -> processed-<step>; a failed test ends it at quality-fail.
- Formulations consume batches into a product; a QR token points consumers at its provenance.
Every write lands in the mirror database first and reaches the ledger through the outbox ('herbaltrace worker').`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HERBALTRACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.FileName, "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("sync", false, "submit queued ledger jobs before returning")
	rootCmd.PersistentFlags().String("ledger-mode", "", "fabric or local (overrides ledger.mode)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("sync", rootCmd.PersistentFlags().Lookup("sync"))
	_ = viper.BindPFlag("ledger.mode", rootCmd.PersistentFlags().Lookup("ledger-mode"))
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(participantsCmd())
	rootCmd.AddCommand(speciesCmd())
	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(batchesCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(formulateCmd())
	rootCmd.AddCommand(transferCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(provenanceCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(syncStatusCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(workerCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply mirror database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// openApp migrates on open.
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				fmt.Println("mirror database is up to date")
				return nil
			})
		},
	}
}

// --- participants ---

func participantsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "participants", Short: "Manage supply chain participants"}
	cmd.AddCommand(participantWriteCmd("register", "Register a participant"))
	cmd.AddCommand(participantWriteCmd("update", "Update a participant profile"))
	cmd.AddCommand(participantGetCmd())
	cmd.AddCommand(participantListCmd())
	return cmd
}

func participantWriteCmd(use, short string) *cobra.Command {
	var p domain.Participant
	var ptype string
	var lat, long float64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Type = domain.ParticipantType(ptype)
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("long") {
				p.Location = &domain.Location{Lat: lat, Long: long}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				var out *domain.Participant
				var err error
				if use == "register" {
					out, err = a.svc.RegisterParticipant(ctx, p)
				} else {
					out, err = a.svc.UpdateParticipant(ctx, p)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&ptype, "type", "", "farmer, processor, lab or manufacturer")
	cmd.Flags().StringVar(&p.ID, "id", "", "participant id")
	cmd.Flags().StringVar(&p.Name, "name", "", "display name")
	cmd.Flags().StringVar(&p.OrganizationalIdentity, "org", "", "MSP id the participant acts through")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&long, "long", 0, "longitude")
	cmd.Flags().StringSliceVar(&p.Certifications, "cert", nil, "certification (repeatable)")
	cmd.Flags().StringToStringVar(&p.Profile, "profile", nil, "profile key=value pairs")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func participantGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get TYPE ID",
		Short: "Show a participant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				t, err := domain.ParseParticipantType(args[0])
				if err != nil {
					return err
				}
				p, err := a.svc.GetParticipant(ctx, t, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func participantListCmd() *cobra.Command {
	var ptype string
	var page mirror.Page
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.svc.ListParticipants(ctx, domain.ParticipantType(ptype), page)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Type", "ID", "Name", "Organization"})
				for _, p := range res.Items {
					tw.AppendRow(table.Row{p.Type, p.ID, p.Name, p.OrganizationalIdentity})
				}
				renderPage(tw, res.Page, res.Limit, res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ptype, "type", "", "participant type filter")
	addPageFlags(cmd, &page)
	return cmd
}

// --- species rules ---

func speciesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "species", Short: "Manage species collection rules"}
	cmd.AddCommand(speciesSetCmd(), speciesGetCmd(), speciesListCmd())
	return cmd
}

func speciesSetCmd() *cobra.Command {
	var rulesJSON, rulesFile string
	cmd := &cobra.Command{
		Use:   "set SPECIES",
		Short: "Create or replace the rules of a species",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesFile != "" {
				b, err := os.ReadFile(rulesFile)
				if err != nil {
					return err
				}
				rulesJSON = string(b)
			}
			if rulesJSON == "" {
				return fmt.Errorf("--rules or --rules-file required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rule, err := a.svc.SetSpeciesRules(ctx, args[0], rulesJSON)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().StringVar(&rulesJSON, "rules", "", "rules JSON")
	cmd.Flags().StringVar(&rulesFile, "rules-file", "", "file holding the rules JSON")
	return cmd
}

func speciesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get SPECIES",
		Short: "Show the rules of a species",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rule, err := a.svc.GetSpeciesRules(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
}

func speciesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List species rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				rs, err := a.svc.ListSpeciesRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rs)
				}
				tw := newTable(table.Row{"Species", "Geofence", "Months", "Moisture Max", "Pesticide Max"})
				for _, r := range rs {
					fence := "-"
					if g := r.Geofence; g != nil {
						fence = fmt.Sprintf("%.4f,%.4f r=%.0fm", g.Center.Lat, g.Center.Long, g.RadiusMeters)
					}
					moisture, pesticide := "-", "-"
					if q := r.QualityThresholds; q != nil {
						moisture, pesticide = optionalFloat(q.MoistureMax), optionalFloat(q.PesticidePPMMax)
					}
					tw.AppendRow(table.Row{r.Species, fence, fmt.Sprint(r.AllowedMonths), moisture, pesticide})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- batches ---

func collectCmd() *cobra.Command {
	var req service.CollectionRequest
	var qualityJSON string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Record a harvest and open its batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.DecodeJSONArg("quality", qualityJSON, &req.Quality); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				b, err := a.svc.CreateCollection(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&req.CollectionID, "collection", "", "collection event id")
	cmd.Flags().StringVar(&req.CollectorID, "collector", "", "farmer id")
	cmd.Flags().Float64Var(&req.Lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&req.Long, "long", 0, "longitude")
	cmd.Flags().StringVar(&req.Timestamp, "timestamp", "", "harvest time, RFC 3339 (default now)")
	cmd.Flags().StringVar(&req.Species, "species", "", "species")
	cmd.Flags().Float64Var(&req.Quantity, "quantity", 0, "quantity in kg")
	cmd.Flags().StringVar(&qualityJSON, "quality", "", `quality JSON, e.g. {"moisture":8}`)
	for _, f := range []string{"batch", "collection", "collector", "lat", "long", "species", "quantity"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func batchesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "batches", Short: "Inspect herb batches"}

	var f mirror.BatchFilter
	var page mirror.Page
	list := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.svc.ListBatches(ctx, f, page)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Batch", "Species", "Quantity", "Status", "Owner", "Used In"})
				for _, b := range res.Items {
					tw.AppendRow(table.Row{b.BatchID, b.Species, b.Quantity, b.Status.MirrorString(), b.CurrentOwner, strings.Join(b.UsedIn, ",")})
				}
				renderPage(tw, res.Page, res.Limit, res.Total)
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "status filter, either spelling")
	list.Flags().StringVar(&f.Owner, "owner", "", "current owner filter")
	list.Flags().StringVar(&f.Species, "species", "", "species filter")
	addPageFlags(list, &page)

	show := &cobra.Command{
		Use:   "show BATCH",
		Short: "Show a batch with its logs and products",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				b, err := a.svc.GetBatch(ctx, args[0])
				if err != nil {
					return err
				}
				steps, err := a.svc.ProcessingSteps(ctx, b.BatchID)
				if err != nil {
					return err
				}
				tests, err := a.svc.QualityTests(ctx, b.BatchID)
				if err != nil {
					return err
				}
				products, err := a.svc.ProductsUsing(ctx, b.BatchID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"batch": b, "processSteps": steps, "qualityTests": tests, "products": products})
			})
		},
	}
	cmd.AddCommand(list, show)
	return cmd
}

func processCmd() *cobra.Command {
	var req service.StepRequest
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Log a processing step",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.DecodeJSONArg("params", paramsJSON, &req.Params); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				step, err := a.svc.AddProcessingStep(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(step)
			})
		},
	}
	cmd.Flags().StringVar(&req.ProcessID, "id", "", "process step id")
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&req.FacilityID, "facility", "", "processor id")
	cmd.Flags().StringVar(&req.StepType, "step", "", "cleaning, drying, grinding, sorting or packaging")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "step parameters JSON")
	cmd.Flags().StringVar(&req.Timestamp, "timestamp", "", "step time (default now)")
	for _, f := range []string{"id", "batch", "facility", "step"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func testCmd() *cobra.Command {
	var req service.TestRequest
	var resultsJSON string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Log a lab quality test",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.DecodeJSONArg("results", resultsJSON, &req.Results); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				qt, err := a.svc.AddQualityTest(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(qt)
			})
		},
	}
	cmd.Flags().StringVar(&req.TestID, "id", "", "test id")
	cmd.Flags().StringVar(&req.BatchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&req.LabID, "lab", "", "lab id")
	cmd.Flags().StringVar(&req.TestType, "type", "", "test type")
	cmd.Flags().StringVar(&resultsJSON, "results", "", "results JSON")
	cmd.Flags().StringVar(&req.Timestamp, "timestamp", "", "test time (default now)")
	for _, f := range []string{"id", "batch", "lab", "results"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func formulateCmd() *cobra.Command {
	var req service.FormulationRequest
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "formulate",
		Short: "Record a product made from herb batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := domain.DecodeJSONArg("params", paramsJSON, &req.Params); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				f, err := a.svc.CreateFormulation(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&req.ProductBatchID, "product", "", "product batch id")
	cmd.Flags().StringVar(&req.ManufacturerID, "manufacturer", "", "manufacturer id")
	cmd.Flags().StringSliceVar(&req.InputBatches, "inputs", nil, "input batch ids")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "formulation parameters JSON")
	cmd.Flags().StringVar(&req.Timestamp, "timestamp", "", "formulation time (default now)")
	for _, f := range []string{"product", "manufacturer", "inputs"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func transferCmd() *cobra.Command {
	var batchID, actorType, actorID, to string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Hand a batch to a new owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				b, err := a.svc.TransferBatch(ctx, batchID, actorType, actorID, to)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&actorType, "actor-type", "", "type of the current owner")
	cmd.Flags().StringVar(&actorID, "actor-id", "", "id of the current owner")
	cmd.Flags().StringVar(&to, "to", "", "new owner id")
	for _, f := range []string{"batch", "actor-type", "actor-id", "to"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var batchID, actorType, actorID, status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Move a batch to a new status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				b, err := a.svc.UpdateBatchStatus(ctx, batchID, actorType, actorID, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&actorType, "actor-type", "", "type of the current owner")
	cmd.Flags().StringVar(&actorID, "actor-id", "", "id of the current owner")
	cmd.Flags().StringVar(&status, "status", "", "new status, e.g. processed-drying")
	for _, f := range []string{"batch", "actor-type", "actor-id", "status"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// --- products ---

func qrCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "qr PRODUCT",
		Short: "Issue a consumer QR code for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				qr, err := a.svc.GenerateQR(ctx, args[0])
				if err != nil {
					return err
				}
				if out != "" {
					if err := os.WriteFile(out, qr.PNG, 0o644); err != nil {
						return err
					}
				}
				return printJSONOrTable(qr)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "also write the PNG to this file")
	return cmd
}

func provenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provenance PRODUCT",
		Short: "Trace a product back to its harvests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				bundle, err := a.svc.GetProvenance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(bundle)
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history BATCH",
		Short: "Show the ledger history of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				raw, err := a.svc.BatchHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(raw)
			})
		},
	}
}

// --- reconciliation ---

func syncStatusCmd() *cobra.Command {
	var ref mirror.Ref
	var kind string
	cmd := &cobra.Command{
		Use:   "sync-status",
		Short: "Show whether a mirror record reached the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref.Kind = mirror.Kind(kind)
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				s, err := a.svc.SyncStatus(ctx, ref)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "batch", "participant, species, collection, batch, process, qtest or formulation")
	cmd.Flags().StringVar(&ref.ID, "id", "", "record id")
	cmd.Flags().StringVar(&ref.Parent, "parent", "", "participant type, or batch id of a process step or test")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Inspect and replay ledger jobs"}

	var status string
	var page mirror.Page
	list := &cobra.Command{
		Use:   "list",
		Short: "List outbox jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := a.svc.ListJobs(ctx, mirror.JobStatus(strings.ToUpper(status)), page)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Seq", "ID", "Function", "Identity", "Status", "Attempts", "Tx / Error"})
				for _, j := range res.Items {
					detail := j.TxID
					if j.LastError != "" {
						detail = j.LastError
					}
					tw.AppendRow(table.Row{j.Seq, j.ID, j.Function, j.Identity, j.Status, j.Attempts, detail})
				}
				renderPage(tw, res.Page, res.Limit, res.Total)
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "PENDING, PROCESSING, COMPLETED or FAILED")
	addPageFlags(list, &page)

	retry := &cobra.Command{
		Use:   "retry JOB...",
		Short: "Re-arm failed jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				for _, id := range args {
					if err := a.outbox.Retry(ctx, id); err != nil {
						return fmt.Errorf("retry %s: %w", id, err)
					}
					fmt.Println("queued", id)
				}
				return nil
			})
		},
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Submit pending jobs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				n, err := a.outbox.RunPending(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("processed %d jobs\n", n)
				return nil
			})
		},
	}
	cmd.AddCommand(list, retry, run)
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the outbox dispatcher and serve metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.outbox.Start(ctx); err != nil {
					return err
				}
				var srv *http.Server
				if addr := a.cfg.Metrics.Addr; addr != "" {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
					srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.logger.Error("metrics server stopped", "err", err)
						}
					}()
					a.logger.Info("serving metrics", "addr", addr)
				}
				a.logger.Info("outbox worker started", "workers", a.cfg.Outbox.Workers, "ledger", a.cfg.Ledger.Mode)

				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if srv != nil {
					_ = srv.Shutdown(shutdown)
				}
				return a.outbox.Stop(shutdown)
			})
		},
	}
}

// --- helpers ---

func addPageFlags(cmd *cobra.Command, page *mirror.Page) {
	cmd.Flags().IntVar(&page.Number, "page", 1, "page number")
	cmd.Flags().IntVar(&page.Limit, "limit", mirror.DefaultLimit, "page size")
	cmd.Flags().StringVar(&page.Sort, "sort", "", "sort column, prefix - for descending")
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func renderPage(tw table.Writer, page, limit, total int) {
	tw.AppendFooter(table.Row{fmt.Sprintf("page %d, %d per page, %d total", page, limit, total)})
	tw.Render()
}

func optionalFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
