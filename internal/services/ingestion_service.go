package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/internal/schema"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// LocationsFile is the optional CBSA metadata file read from the data directory
const LocationsFile = "locations.csv"

// IngestionService loads EPA daily AQI CSV exports into the historic collection
type IngestionService struct {
	repo    repository.MeasurementRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Duration          time.Duration
	Errors            []string
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
}

// NewIngestionService creates a new ingestion service. repo may be nil for
// dry runs.
func NewIngestionService(repo repository.MeasurementRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests every *.csv file in dataDir except the locations
// file. With dryRun set rows are parsed and validated but not stored.
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, batchSize int, dryRun bool) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting AQI ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": batchSize,
		"dry_run":    dryRun,
		"stage":      "INITIALIZATION",
	})

	if !dryRun && s.repo == nil {
		return nil, errors.New("ingestion requires a repository unless running dry")
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	locations, err := LoadLocations(filepath.Join(dataDir, LocationsFile))
	if err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(dataDir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	dataFiles := files[:0]
	for _, f := range files {
		if filepath.Base(f) != LocationsFile {
			dataFiles = append(dataFiles, f)
		}
	}
	if len(dataFiles) == 0 {
		return nil, fmt.Errorf("no data files found in %s", dataDir)
	}

	result := &IngestionResult{
		TotalFiles: len(dataFiles),
		Errors:     make([]string, 0),
	}

	s.logger.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
		"file_count":     len(dataFiles),
		"location_count": len(locations),
		"stage":          "FILE_DISCOVERY",
	})

	for _, filePath := range dataFiles {
		fileResult, err := s.ingestFile(ctx, filePath, locations, batchSize, dryRun)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", filePath, err))
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
				"stage":     "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.FailedRecords += fileResult.FailedRecords

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested", logging.Fields{
			"file_path":          filePath,
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"failed_records":     fileResult.FailedRecords,
			"stage":              "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] AQI ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
		"stage":              "COMPLETE",
	})

	return result, nil
}

func (s *IngestionService) ingestFile(ctx context.Context, filePath string, locations map[int]schema.LocationInput, batchSize int, dryRun bool) (*FileIngestionResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := columnIndex(header)
	for _, required := range []string{"cbsa code", "date", "aqi", "defining parameter"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	result := &FileIngestionResult{}
	batch := make([]models.Measurement, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !dryRun {
			if err := s.repo.InsertBatch(ctx, models.CollectionHistoric, batch); err != nil {
				return fmt.Errorf("failed to insert batch: %w", err)
			}
		}
		result.SuccessfulRecords += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading file: %w", err)
		}
		result.TotalRecords++

		record, err := ParseEPARow(row, cols, locations)
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("parse_error")
			continue
		}
		if err := record.Validate(); err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("validation_error")
			continue
		}

		batch = append(batch, record.ToMeasurement())
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}
	return result, nil
}

// ParseEPARow converts one daily_aqi_by_cbsa row into a measurement record.
// The row's CBSA code must have an entry in locations.
func ParseEPARow(row []string, cols map[string]int, locations map[int]schema.LocationInput) (*schema.MeasurementRecord, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	code, err := strconv.Atoi(get("cbsa code"))
	if err != nil {
		return nil, fmt.Errorf("invalid CBSA code: %w", err)
	}
	loc, ok := locations[code]
	if !ok {
		return nil, fmt.Errorf("no location for CBSA code %d", code)
	}

	aqi, err := strconv.Atoi(get("aqi"))
	if err != nil {
		return nil, fmt.Errorf("invalid AQI: %w", err)
	}

	date := get("date")
	param := strings.ToUpper(get("defining parameter"))

	record := &schema.MeasurementRecord{
		Date:              &date,
		AQI:               &aqi,
		DefiningParameter: &param,
		Location:          &loc,
	}

	if raw := get("number of sites reporting"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid site count: %w", err)
		}
		record.NumberOfSitesReporting = &n
	}
	if name := get("cbsa"); name != "" {
		loc.SiteName = &name
	}
	if site := get("defining site"); site != "" {
		loc.FullAQSID = &site
	}
	return record, nil
}

// LoadLocations reads the CBSA metadata file. A missing file yields an empty map.
func LoadLocations(path string) (map[int]schema.LocationInput, error) {
	out := make(map[int]schema.LocationInput)

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open locations file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read locations header: %w", err)
	}
	cols := columnIndex(header)
	for _, required := range []string{"cbsa code", "lat", "long"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("locations file missing column %q", required)
		}
	}

	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("locations line %d: %w", line, err)
		}

		code, err := strconv.Atoi(strings.TrimSpace(row[cols["cbsa code"]]))
		if err != nil {
			return nil, fmt.Errorf("locations line %d: invalid CBSA code", line)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[cols["lat"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("locations line %d: invalid latitude", line)
		}
		long, err := strconv.ParseFloat(strings.TrimSpace(row[cols["long"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("locations line %d: invalid longitude", line)
		}

		loc := schema.LocationInput{Lat: &lat, Long: &long, CBSACode: &code}
		loc.City = optionalString(row, cols, "city")
		loc.State = optionalString(row, cols, "state")
		loc.Timezone = optionalString(row, cols, "timezone")
		loc.Population = optionalFloat(row, cols, "population")
		loc.Density = optionalFloat(row, cols, "density")

		out[code] = loc
	}
	return out, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func optionalString(row []string, cols map[string]int, name string) *string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return nil
	}
	v := strings.TrimSpace(row[i])
	if v == "" {
		return nil
	}
	return &v
}

func optionalFloat(row []string, cols map[string]int, name string) *float64 {
	raw := optionalString(row, cols, name)
	if raw == nil {
		return nil
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
