package his

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/oncoportal/platform/internal/accounts"
	"github.com/oncoportal/platform/internal/medical"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/metrics"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Directory resolves portal accounts. HIS rows are matched to portal
// patients by email.
type Directory interface {
	FindUserByEmail(ctx context.Context, email string) (*accounts.User, error)
}

// Records writes HIS diagnosis data into patient records.
type Records interface {
	FindRecordByPatient(ctx context.Context, patientID types.ID) (*medical.PatientRecord, error)
	UpsertRecord(ctx context.Context, rec *medical.PatientRecord) error
	FindCancerTypeByName(ctx context.Context, name string) (*medical.CancerType, error)
}

// PatientRow is one diagnosis row from the hospital information system.
type PatientRow struct {
	Email         string
	CancerType    string
	CancerStage   string
	StageGrouping string
	Treatment     string
	DiagnosisDate *time.Time
	Notes         string
	LastModified  time.Time
}

// Adapter polls an external HIS SQL Server and imports diagnosis rows into
// patient records.
type Adapter struct {
	cfg       config.HISConfig
	directory Directory
	records   Records
	bus       events.EventBus

	db       *sql.DB
	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// New creates a HIS import adapter
func New(cfg config.HISConfig, directory Directory, records Records, bus events.EventBus) *Adapter {
	return &Adapter{cfg: cfg, directory: directory, records: records, bus: bus}
}

// Start opens the HIS connection and starts the polling loop
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("HIS adapter already running")
	}

	db, err := sql.Open("sqlserver", a.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open HIS database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping HIS database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.cfg.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	log.Printf("HIS import started, polling %s every %s", a.cfg.PatientTable, a.cfg.PollInterval)
	return nil
}

// Stop stops polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.db != nil {
		a.db.Close()
	}
	a.running = false
	return nil
}

// Health checks HIS connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.Lock()
	running := a.running
	db := a.db
	a.mu.Unlock()

	if !running {
		return fmt.Errorf("HIS adapter not running")
	}
	return db.PingContext(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			since := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.poll(ctx, since); err != nil {
				log.Printf("HIS poll failed: %v", err)
			}
		}
	}
}

// poll fetches rows modified since the last poll and imports them
func (a *Adapter) poll(ctx context.Context, since time.Time) error {
	rows, err := a.fetchRows(ctx, since)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if err := a.importRow(ctx, row); err != nil {
			log.Printf("HIS import skipped row for %s: %v", row.Email, err)
		}
	}
	return nil
}

// fetchRows queries the HIS patient table for changes since the given time
func (a *Adapter) fetchRows(ctx context.Context, since time.Time) ([]PatientRow, error) {
	query := fmt.Sprintf(`
		SELECT
			Email,
			CancerType,
			CancerStage,
			StageGrouping,
			RecommendedTreatment,
			DiagnosisDate,
			Notes,
			LastModified
		FROM %s
		WHERE LastModified > @since
		ORDER BY LastModified ASC
	`, a.cfg.PatientTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return nil, fmt.Errorf("failed to query HIS patients: %w", err)
	}
	defer rows.Close()

	var out []PatientRow
	for rows.Next() {
		var row PatientRow
		var stage, grouping, treatment, notes sql.NullString
		var diagnosed sql.NullTime

		err := rows.Scan(
			&row.Email,
			&row.CancerType,
			&stage,
			&grouping,
			&treatment,
			&diagnosed,
			&notes,
			&row.LastModified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan HIS row: %w", err)
		}

		if stage.Valid {
			row.CancerStage = stage.String
		}
		if grouping.Valid {
			row.StageGrouping = grouping.String
		}
		if treatment.Valid {
			row.Treatment = treatment.String
		}
		if notes.Valid {
			row.Notes = notes.String
		}
		if diagnosed.Valid {
			row.DiagnosisDate = &diagnosed.Time
		}

		out = append(out, row)
	}
	return out, rows.Err()
}

// importRow maps one HIS row onto a patient record and upserts it. Rows for
// emails without a portal account are skipped.
func (a *Adapter) importRow(ctx context.Context, row PatientRow) error {
	user, err := a.directory.FindUserByEmail(ctx, row.Email)
	if err != nil {
		return fmt.Errorf("no portal account: %w", err)
	}

	rec, err := a.records.FindRecordByPatient(ctx, user.ID)
	if err != nil {
		rec = medical.NewPatientRecord(user.ID, medical.RecordSourceHIS)
	}
	rec.Source = medical.RecordSourceHIS

	if row.CancerType != "" {
		ct, err := a.records.FindCancerTypeByName(ctx, row.CancerType)
		if err == nil {
			rec.CancerTypeID = &ct.ID
		} else {
			log.Printf("HIS import: unknown cancer type %q for %s", row.CancerType, row.Email)
		}
	}
	if row.CancerStage != "" {
		rec.CancerStage = row.CancerStage
	}
	if row.StageGrouping != "" {
		rec.StageGrouping = row.StageGrouping
	}
	if row.Treatment != "" {
		rec.RecommendedTreatment = row.Treatment
	}
	if row.DiagnosisDate != nil {
		rec.DiagnosisDate = row.DiagnosisDate
	}
	if row.Notes != "" {
		rec.Notes = row.Notes
	}

	if err := a.records.UpsertRecord(ctx, rec); err != nil {
		return err
	}
	metrics.RecordHISPatientSynced()

	if a.bus != nil {
		event := events.NewEvent("his.patient.synced", "his", map[string]any{
			"patient_id": user.ID,
			"source":     "his",
		})
		if err := a.bus.Publish(ctx, event); err != nil {
			log.Printf("Failed to publish his.patient.synced: %v", err)
		}
	}
	return nil
}
