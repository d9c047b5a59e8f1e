package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"nexuseval/internal/db/repositories"
	"nexuseval/internal/events"
	"nexuseval/internal/logging"
)

// DefaultMaxBatchSize caps how many requests one batch run may carry.
const DefaultMaxBatchSize = 500

// Evaluation method labels on persisted results.
const (
	MethodJSON    = "JSON"
	MethodBatch   = "Batch"
	MethodUnknown = "Unknown"
)

// Error type labels per output.
const (
	ErrorTypeCorrect       = "correct"
	ErrorTypeHallucination = "hallucination"
)

// GroundTruthRecord is the expected value for one query in batch mode.
type GroundTruthRecord struct {
	QueryID      string `json:"query_id"`
	Expected     string `json:"expected"`
	ExpectedType string `json:"expected_type"`
	SourceColumn string `json:"source_column,omitempty"`
}

// TestRequest is one evaluation item in a batch. A nil PreComputedOutput
// means the candidate never produced this field.
type TestRequest struct {
	PreComputedOutput *string            `json:"pre_computed_output"`
	GroundTruth       *GroundTruthRecord `json:"ground_truth"`
	RunID             string             `json:"run_id"`
}

// BatchOptions carry the thresholds, weights, and toggles for one batch run.
type BatchOptions struct {
	Thresholds          Thresholds  `json:"thresholds"`
	Weights             JSONWeights `json:"weights"`
	Alpha               float64     `json:"alpha"`
	Beta                float64     `json:"beta"`
	Gamma               float64     `json:"gamma"`
	EnableSafety        bool        `json:"enable_safety"`
	AggregateRunMetrics bool        `json:"aggregate_run_metrics"`
	FieldStrategies     StrategyMap `json:"field_strategies,omitempty"`
}

func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Thresholds:          DefaultThresholds(),
		Weights:             DefaultJSONWeights(),
		Alpha:               0.6,
		Beta:                0.2,
		Gamma:               0.2,
		AggregateRunMetrics: true,
	}
}

// QueryResult groups the outputs observed for one query across runs.
type QueryResult struct {
	Outputs []*OutputDetail `json:"outputs"`
	NRuns   int             `json:"n_runs"`
}

// AggregateMetrics average the per-output metrics across the whole batch.
type AggregateMetrics struct {
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Completeness float64 `json:"completeness"`
	// Hallucination averages the per-output key shares; the PASS/FAIL gate
	// uses the distinct aggregate rate of hallucinated outputs.
	Hallucination float64 `json:"hallucination"`
	Safety        float64 `json:"safety"`
	RQS           float64 `json:"rqs"`
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	Gamma         float64 `json:"gamma"`
	NQueries      int     `json:"n_queries"`
}

// ErrorSummary counts outputs by error type.
type ErrorSummary struct {
	Hallucination int `json:"hallucination"`
	Correct       int `json:"correct"`
}

// RunDetail is the run-level metric bundle computed when aggregate run
// metrics are enabled.
type RunDetail struct {
	SafetyScore      float64  `json:"safety_score"`
	SafetyIssues     []string `json:"safety_issues"`
	ReconstructedAIO string   `json:"reconstructed_aio"`
	ReconstructedGT  string   `json:"reconstructed_gt"`
}

// BatchResult is the persisted payload of one orchestrated run.
type BatchResult struct {
	ID                    int64                    `json:"id"`
	RunID                 string                   `json:"run_id"`
	PerQuery              map[string]*QueryResult  `json:"per_query"`
	AccuracyPerQuery      map[string]float64       `json:"accuracy_per_query"`
	ConsistencyPerQuery   map[string]float64       `json:"consistency_per_query"`
	Aggregate             AggregateMetrics         `json:"aggregate"`
	ErrorSummary          ErrorSummary             `json:"error_summary"`
	EvaluationStatus      string                   `json:"evaluation_status"`
	FailReasons           []string                 `json:"fail_reasons"`
	RunDetails            map[string]RunDetail     `json:"run_details,omitempty"`
	BestRunID             string                   `json:"best_run_id,omitempty"`
	Recommendation        string                   `json:"recommendation,omitempty"`
	NormalizedGroundTruth []map[string]interface{} `json:"normalized_ground_truth,omitempty"`
	NormalizedAIOutputs   []map[string]interface{} `json:"normalized_ai_outputs,omitempty"`
	GroundTruthSource     string                   `json:"ground_truth_source,omitempty"`
	EvaluationMethod      string                   `json:"evaluation_method"`
}

// JSONEvaluationRequest is the normalized-records evaluation input. Key
// fields are configurable so callers can map their own record shapes.
type JSONEvaluationRequest struct {
	GroundTruth []map[string]interface{} `json:"ground_truth"`
	AIOutputs   []map[string]interface{} `json:"ai_outputs"`

	GTQueryIDKey   string `json:"gt_query_id_key"`
	GTExpectedKey  string `json:"gt_expected_key"`
	GTTypeKey      string `json:"gt_type_key"`
	PredQueryIDKey string `json:"pred_query_id_key"`
	PredOutputKey  string `json:"pred_output_key"`
	PredRunIDKey   string `json:"pred_run_id_key"`

	Options BatchOptions `json:"options"`
}

// ApplyDefaults fills unset key fields with the canonical record shape.
func (r *JSONEvaluationRequest) ApplyDefaults() {
	if r.GTQueryIDKey == "" {
		r.GTQueryIDKey = "query_id"
	}
	if r.GTExpectedKey == "" {
		r.GTExpectedKey = "expected_output"
	}
	if r.GTTypeKey == "" {
		r.GTTypeKey = "type"
	}
	if r.PredQueryIDKey == "" {
		r.PredQueryIDKey = "query_id"
	}
	if r.PredOutputKey == "" {
		r.PredOutputKey = "actual_output"
	}
	if r.PredRunIDKey == "" {
		r.PredRunIDKey = "run_id"
	}
}

// PathEvaluationRequest evaluates records loaded from local files.
type PathEvaluationRequest struct {
	GroundTruthPath string `json:"ground_truth_path"`
	AIOutputsPath   string `json:"ai_outputs_path"`

	GTQueryIDKey   string `json:"gt_query_id_key"`
	GTExpectedKey  string `json:"gt_expected_key"`
	GTTypeKey      string `json:"gt_type_key"`
	PredQueryIDKey string `json:"pred_query_id_key"`
	PredOutputKey  string `json:"pred_output_key"`
	PredRunIDKey   string `json:"pred_run_id_key"`

	Options BatchOptions `json:"options"`
}

// ValidationError carries a user-facing message for a rejected request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Recommender turns a list of failure reasons into an improvement note.
type Recommender interface {
	Recommend(ctx context.Context, failures []string) (string, error)
}

// Orchestrator coordinates a full evaluation run: normalization, dispatch,
// aggregation, thresholding, event emission, and persistence.
type Orchestrator struct {
	scorer         Scorer
	recommender    Recommender
	bus            *events.Bus
	store          *repositories.EvaluationRepo
	fs             afero.Fs
	allowedDataDir string
	maxBatchSize   int
	tracer         trace.Tracer
}

func NewOrchestrator(scorer Scorer, bus *events.Bus, store *repositories.EvaluationRepo, fs afero.Fs, allowedDataDir string) *Orchestrator {
	return &Orchestrator{
		scorer:         scorer,
		bus:            bus,
		store:          store,
		fs:             fs,
		allowedDataDir: allowedDataDir,
		maxBatchSize:   DefaultMaxBatchSize,
		tracer:         otel.Tracer("nexuseval"),
	}
}

// WithMaxBatchSize overrides the batch size cap. Non-positive values keep the
// default.
func (o *Orchestrator) WithMaxBatchSize(n int) *Orchestrator {
	if n > 0 {
		o.maxBatchSize = n
	}
	return o
}

// WithRecommender attaches the failure-summary generator. Without one, FAIL
// results simply omit the recommendation.
func (o *Orchestrator) WithRecommender(r Recommender) *Orchestrator {
	o.recommender = r
	return o
}

// runLog accumulates the ordered event log while mirroring every event to
// the tenant's subscribers.
type runLog struct {
	bus      *events.Bus
	tenantID string
	entries  []events.Event
}

func (l *runLog) emit(agentName, status, message string, details map[string]interface{}) {
	ev := events.NewEvent(agentName, status, message, details)
	if l.bus != nil {
		l.bus.Publish(l.tenantID, ev)
	}
	l.entries = append(l.entries, ev)
}

// RunBatch evaluates pre-normalized requests and persists the result.
func (o *Orchestrator) RunBatch(ctx context.Context, tenantID string, requests []TestRequest, opts BatchOptions) (*BatchResult, error) {
	log := &runLog{bus: o.bus, tenantID: tenantID}
	result, err := o.runBatch(ctx, requests, opts, log)
	if err != nil {
		return nil, err
	}
	result.EvaluationMethod = MethodBatch
	o.persist(tenantID, result, log)
	return result, nil
}

// RunJSONEvaluation normalizes configurable-key records into batch requests
// and runs them. Ground-truth rows with no matching candidate become
// not-found requests; candidate rows with no ground truth are evaluated
// without one.
func (o *Orchestrator) RunJSONEvaluation(ctx context.Context, tenantID string, req JSONEvaluationRequest) (*BatchResult, error) {
	return o.runJSON(ctx, tenantID, req, "JSON Upload")
}

func (o *Orchestrator) runJSON(ctx context.Context, tenantID string, req JSONEvaluationRequest, source string) (*BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "eval.run_json")
	defer span.End()

	req.ApplyDefaults()
	if len(req.GroundTruth) > o.maxBatchSize {
		return nil, &ValidationError{Message: fmt.Sprintf("ground truth size exceeds limit of %d", o.maxBatchSize)}
	}
	if len(req.AIOutputs) > o.maxBatchSize {
		return nil, &ValidationError{Message: fmt.Sprintf("ai outputs size exceeds limit of %d", o.maxBatchSize)}
	}

	gtMap := make(map[string]*GroundTruthRecord)
	var gtOrder []string
	for _, item := range req.GroundTruth {
		qid := ensureString(item[req.GTQueryIDKey])
		if qid == "" {
			continue
		}
		matchType := ensureString(item[req.GTTypeKey])
		if matchType == "" {
			matchType = TypeText
		}
		sourceCol := ensureString(item["source_field"])
		if sourceCol == "" {
			sourceCol = req.GTExpectedKey
		}
		gtMap[qid] = &GroundTruthRecord{
			QueryID:      qid,
			Expected:     ensureString(item[req.GTExpectedKey]),
			ExpectedType: matchType,
			SourceColumn: sourceCol,
		}
		gtOrder = append(gtOrder, qid)
	}

	var testRequests []TestRequest
	matchedGT := make(map[string]bool)
	for _, item := range req.AIOutputs {
		qid := ensureString(item[req.PredQueryIDKey])
		if qid == "" {
			continue
		}
		gt := gtMap[qid]
		if gt != nil {
			matchedGT[qid] = true
		}
		output := ensureString(item[req.PredOutputKey])
		runID := ensureString(item[req.PredRunIDKey])
		if runID == "" {
			runID = "r1"
		}
		testRequests = append(testRequests, TestRequest{
			PreComputedOutput: &output,
			GroundTruth:       gt,
			RunID:             runID,
		})
	}
	// Ground truth the candidate never answered still counts, as a miss.
	for _, qid := range gtOrder {
		if matchedGT[qid] {
			continue
		}
		testRequests = append(testRequests, TestRequest{
			PreComputedOutput: nil,
			GroundTruth:       gtMap[qid],
			RunID:             "manual_run",
		})
	}

	log := &runLog{bus: o.bus, tenantID: tenantID}
	result, err := o.runBatch(ctx, testRequests, req.Options, log)
	if err != nil {
		log.emit("System", events.StatusFailed, fmt.Sprintf("Batch execution failed: %v", err), nil)
		return nil, err
	}

	result.EvaluationMethod = MethodJSON
	result.GroundTruthSource = source
	result.NormalizedGroundTruth = make([]map[string]interface{}, 0, len(req.GroundTruth))
	for _, item := range req.GroundTruth {
		result.NormalizedGroundTruth = append(result.NormalizedGroundTruth, map[string]interface{}{
			"query_id":        ensureString(item[req.GTQueryIDKey]),
			"expected_output": ensureString(item[req.GTExpectedKey]),
			"match_type":      ensureString(item[req.GTTypeKey]),
		})
	}
	result.NormalizedAIOutputs = make([]map[string]interface{}, 0, len(req.AIOutputs))
	for _, item := range req.AIOutputs {
		runID := ensureString(item[req.PredRunIDKey])
		if runID == "" {
			runID = "r1"
		}
		result.NormalizedAIOutputs = append(result.NormalizedAIOutputs, map[string]interface{}{
			"query_id":      ensureString(item[req.PredQueryIDKey]),
			"actual_output": ensureString(item[req.PredOutputKey]),
			"run_id":        runID,
		})
	}

	o.persist(tenantID, result, log)
	return result, nil
}

// RunFromPaths loads records from allow-listed local paths and evaluates
// them. A directory of JSON files is merged, extending when a file holds a
// list.
func (o *Orchestrator) RunFromPaths(ctx context.Context, tenantID string, req PathEvaluationRequest) (*BatchResult, error) {
	gtPath, err := o.validatePath(req.GroundTruthPath)
	if err != nil {
		return nil, err
	}
	aiPath, err := o.validatePath(req.AIOutputsPath)
	if err != nil {
		return nil, err
	}

	gtData, err := o.loadRecords(gtPath)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("ground truth path not readable: %s", req.GroundTruthPath)}
	}

	var aiData []map[string]interface{}
	if ok, _ := afero.IsDir(o.fs, aiPath); ok {
		matches, err := afero.Glob(o.fs, filepath.Join(aiPath, "*.json"))
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("ai outputs path not readable: %s", req.AIOutputsPath)}
		}
		for _, fpath := range matches {
			records, err := o.loadRecords(fpath)
			if err != nil {
				logging.Warn("Skipping unreadable file %s: %v", fpath, err)
				continue
			}
			aiData = append(aiData, records...)
		}
	} else {
		aiData, err = o.loadRecords(aiPath)
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("ai outputs path not readable: %s", req.AIOutputsPath)}
		}
	}

	jsonReq := JSONEvaluationRequest{
		GroundTruth:    gtData,
		AIOutputs:      aiData,
		GTQueryIDKey:   req.GTQueryIDKey,
		GTExpectedKey:  req.GTExpectedKey,
		GTTypeKey:      req.GTTypeKey,
		PredQueryIDKey: req.PredQueryIDKey,
		PredOutputKey:  req.PredOutputKey,
		PredRunIDKey:   req.PredRunIDKey,
		Options:        req.Options,
	}
	return o.runJSON(ctx, tenantID, jsonReq, fmt.Sprintf("File Path: %s", filepath.Base(req.GroundTruthPath)))
}

// validatePath resolves a path and rejects anything outside the allow-list
// root.
func (o *Orchestrator) validatePath(path string) (string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", &ValidationError{Message: fmt.Sprintf("invalid path: %s", path)}
	}
	root, err := filepath.Abs(o.allowedDataDir)
	if err != nil {
		return "", &ValidationError{Message: "allowed data directory is not configured"}
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", &ValidationError{Message: fmt.Sprintf("path is outside allowed directory: %s", path)}
	}
	return resolved, nil
}

func (o *Orchestrator) loadRecords(path string) ([]map[string]interface{}, error) {
	raw, err := afero.ReadFile(o.fs, path)
	if err != nil {
		return nil, err
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]interface{}
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []map[string]interface{}{single}, nil
}

func (o *Orchestrator) runBatch(ctx context.Context, requests []TestRequest, opts BatchOptions, log *runLog) (*BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "eval.run_batch")
	defer span.End()

	if len(requests) > o.maxBatchSize {
		return nil, &ValidationError{Message: fmt.Sprintf("batch size %d exceeds limit of %d", len(requests), o.maxBatchSize)}
	}

	runID := uuid.NewString()
	log.emit("Orchestrator", events.StatusWorking, fmt.Sprintf("Starting batch evaluation of %d queries", len(requests)), nil)

	perQuery := make(map[string]*QueryResult)
	accuracyPerQuery := make(map[string]float64)
	consistencyPerQuery := make(map[string]float64)

	// With aggregate run metrics enabled, per-field safety is suppressed and
	// replaced by one run-level pass afterwards.
	anySafety := opts.EnableSafety
	suppressSafety := opts.AggregateRunMetrics

	for _, req := range requests {
		queryID := ""
		if req.GroundTruth != nil {
			queryID = req.GroundTruth.QueryID
		}
		if queryID == "" {
			queryID = fmt.Sprintf("q%d", len(perQuery)+1)
		}
		log.emit("Orchestrator", events.StatusWorking, fmt.Sprintf("Processing Query %s", queryID), nil)

		detail := o.runSingleTest(ctx, req, queryID, opts, suppressSafety)

		qr, ok := perQuery[queryID]
		if !ok {
			qr = &QueryResult{}
			perQuery[queryID] = qr
		}
		qr.Outputs = append(qr.Outputs, detail)
		qr.NRuns++
		// Running mean keeps repeated queries weighted per-run.
		accuracyPerQuery[queryID] = (accuracyPerQuery[queryID]*float64(qr.NRuns-1) + detail.Accuracy) / float64(qr.NRuns)
	}

	runDetails := make(map[string]RunDetail)
	if opts.AggregateRunMetrics {
		runDetails = o.aggregateRunMetrics(ctx, perQuery, anySafety, log)
	}

	hallucinations, corrects := 0, 0
	for queryID, qr := range perQuery {
		texts := make([]string, len(qr.Outputs))
		for i, out := range qr.Outputs {
			texts[i] = out.ActualOutput
		}
		consistencyPerQuery[queryID] = o.scorer.Consistency(ctx, texts)
		log.emit("Consistency Agent", events.StatusCompleted, "Consistency check done", nil)

		for _, out := range qr.Outputs {
			switch out.ErrorType {
			case ErrorTypeHallucination:
				hallucinations++
			case ErrorTypeCorrect:
				corrects++
			}
		}
	}

	nQueries := len(perQuery)
	avgAcc, avgCons := 0.0, 0.0
	if nQueries > 0 {
		for _, v := range accuracyPerQuery {
			avgAcc += v
		}
		for _, v := range consistencyPerQuery {
			avgCons += v
		}
		avgAcc /= float64(nQueries)
		avgCons /= float64(nQueries)
	}

	totalCompleteness, totalHallucination, totalSafety, totalRQS := 0.0, 0.0, 0.0, 0.0
	totalOutputs := 0
	for _, qr := range perQuery {
		for _, out := range qr.Outputs {
			totalOutputs++
			totalCompleteness += out.Completeness
			totalHallucination += out.Hallucination
			totalRQS += out.RQS
			// Run-level safety stands in for the aggregate even when the
			// individual field was clean.
			if rd, ok := runDetails[out.RunID]; ok {
				totalSafety += rd.SafetyScore
			} else {
				totalSafety += 1.0
			}
		}
	}
	avgCompleteness, avgHallucination, avgRQS := 0.0, 0.0, 0.0
	avgSafety := 1.0
	if totalOutputs > 0 {
		avgCompleteness = totalCompleteness / float64(totalOutputs)
		avgHallucination = totalHallucination / float64(totalOutputs)
		avgSafety = totalSafety / float64(totalOutputs)
		avgRQS = totalRQS / float64(totalOutputs)
	}

	var failReasons []string
	if avgAcc < opts.Thresholds.Accuracy {
		failReasons = append(failReasons, fmt.Sprintf("Accuracy %.2f < Threshold %g", avgAcc, opts.Thresholds.Accuracy))
	}
	if avgCons < opts.Thresholds.Consistency {
		failReasons = append(failReasons, fmt.Sprintf("Consistency %.2f < Threshold %g", avgCons, opts.Thresholds.Consistency))
	}
	if avgRQS < opts.Thresholds.RQS {
		failReasons = append(failReasons, fmt.Sprintf("RQS %.2f < Threshold %g", avgRQS, opts.Thresholds.RQS))
	}
	hallucinationRate := 0.0
	if totalOutputs > 0 {
		hallucinationRate = float64(hallucinations) / float64(totalOutputs)
	}
	if hallucinationRate > opts.Thresholds.Hallucination {
		failReasons = append(failReasons, fmt.Sprintf("Hallucination Rate %.2f > Threshold %g", hallucinationRate, opts.Thresholds.Hallucination))
	}

	status := "PASS"
	if len(failReasons) > 0 {
		status = "FAIL"
	}

	// Best run: highest mean RQS across its outputs.
	bestRunID := ""
	bestRunRQS := -1.0
	runRQS := make(map[string]*[2]float64)
	for _, qr := range perQuery {
		for _, out := range qr.Outputs {
			acc, ok := runRQS[out.RunID]
			if !ok {
				acc = &[2]float64{}
				runRQS[out.RunID] = acc
			}
			acc[0] += out.RQS
			acc[1]++
		}
	}
	for rid, acc := range runRQS {
		m := acc[0] / acc[1]
		if m > bestRunRQS || (m == bestRunRQS && rid < bestRunID) {
			bestRunRQS = m
			bestRunID = rid
		}
	}

	recommendation := ""
	if len(failReasons) > 0 && o.recommender != nil {
		rec, err := o.recommender.Recommend(ctx, failReasons)
		if err != nil {
			logging.Warn("Recommendation generation failed: %v", err)
		} else {
			recommendation = rec
		}
	}

	log.emit("Orchestrator", events.StatusCompleted, "Evaluation finished", nil)

	return &BatchResult{
		RunID:               runID,
		PerQuery:            perQuery,
		AccuracyPerQuery:    accuracyPerQuery,
		ConsistencyPerQuery: consistencyPerQuery,
		Aggregate: AggregateMetrics{
			Accuracy:      avgAcc,
			Consistency:   avgCons,
			Completeness:  avgCompleteness,
			Hallucination: avgHallucination,
			Safety:        avgSafety,
			RQS:           avgRQS,
			Alpha:         opts.Alpha,
			Beta:          opts.Beta,
			Gamma:         opts.Gamma,
			NQueries:      nQueries,
		},
		ErrorSummary:     ErrorSummary{Hallucination: hallucinations, Correct: corrects},
		EvaluationStatus: status,
		FailReasons:      failReasons,
		RunDetails:       runDetails,
		BestRunID:        bestRunID,
		Recommendation:   recommendation,
	}, nil
}

// backfill word list for flagging individual outputs inside a toxic run.
var runSafetyHostileWords = []string{
	"idiot", "stupid", "hate", "dumb", "useless", "garbage", "trash", "retard", "moron",
}

// aggregateRunMetrics reconstructs each run's full object from its flattened
// outputs, scores safety once per run, and backfills per-output safety.
func (o *Orchestrator) aggregateRunMetrics(ctx context.Context, perQuery map[string]*QueryResult, anySafety bool, log *runLog) map[string]RunDetail {
	type runData struct {
		aio     map[string]interface{}
		gt      map[string]interface{}
		outputs []*OutputDetail
	}
	runs := make(map[string]*runData)
	for queryID, qr := range perQuery {
		for _, out := range qr.Outputs {
			rd, ok := runs[out.RunID]
			if !ok {
				rd = &runData{aio: make(map[string]interface{}), gt: make(map[string]interface{})}
				runs[out.RunID] = rd
			}
			rd.aio[queryID] = out.ActualOutput
			rd.gt[queryID] = out.ExpectedText
			rd.outputs = append(rd.outputs, out)
		}
	}

	details := make(map[string]RunDetail, len(runs))
	for runID, rd := range runs {
		log.emit("Orchestrator", events.StatusWorking, fmt.Sprintf("Calculating Run-Level Metrics for %s", runID), nil)

		aioText := indentedJSON(Unflatten(rd.aio))
		gtText := indentedJSON(Unflatten(rd.gt))

		safetyScore := 1.0
		var issues []string
		if anySafety {
			tox := o.scorer.Toxicity(ctx, aioText)
			safetyScore = tox.SafetyScore
			issues = tox.Issues
		}
		details[runID] = RunDetail{
			SafetyScore:      safetyScore,
			SafetyIssues:     issues,
			ReconstructedAIO: aioText,
			ReconstructedGT:  gtText,
		}

		for _, out := range rd.outputs {
			fieldToxic := false
			if safetyScore < 0.5 {
				lower := strings.ToLower(out.ActualOutput)
				for _, w := range runSafetyHostileWords {
					if strings.Contains(lower, w) {
						fieldToxic = true
						break
					}
				}
			}
			safety, toxicity := 1.0, 0.0
			if fieldToxic {
				safety = safetyScore
				toxicity = 1.0 - safetyScore
			}
			out.SafetyScore = &safety
			out.Toxicity = &toxicity
		}
	}
	return details
}

func (o *Orchestrator) runSingleTest(ctx context.Context, req TestRequest, queryID string, opts BatchOptions, suppressSafety bool) *OutputDetail {
	found := req.PreComputedOutput != nil
	output := ""
	if found {
		output = *req.PreComputedOutput
	}

	expected := ""
	matchType := TypeText
	if req.GroundTruth != nil {
		expected = req.GroundTruth.Expected
		if req.GroundTruth.ExpectedType != "" {
			matchType = req.GroundTruth.ExpectedType
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = "r1"
	}

	strategy := strings.ToUpper(opts.FieldStrategies[queryID])
	usedStrategy := strategy
	if usedStrategy == "" {
		switch matchType {
		case TypeEmail, TypeNumber, TypeDate, TypeExact:
			usedStrategy = StrategyExact
		default:
			usedStrategy = StrategySemantic
		}
	}

	similarity := 0.0
	if found && strategy != StrategyIgnore {
		switch usedStrategy {
		case StrategyFuzzy:
			similarity = o.scorer.FuzzySimilarity(ctx, output, expected)
		case StrategyExact:
			// deterministic, no LLM call
		default:
			similarity = o.scorer.SemanticSimilarity(ctx, output, expected)
		}
	}

	var safetyScore, toxicity *float64
	if found && opts.EnableSafety && !suppressSafety && strategy != StrategyIgnore {
		tox := o.scorer.Toxicity(ctx, output)
		s, t := tox.SafetyScore, tox.ToxicityScore
		safetyScore, toxicity = &s, &t
	}

	accuracy := 0.0
	switch {
	case !found:
		accuracy = 0.0
		similarity = 0.0
	case strategy == StrategyIgnore:
		accuracy = 1.0
		similarity = 1.0
	case usedStrategy == StrategyExact:
		if ExactCollapsedMatch(expected, output) {
			accuracy = 1.0
			similarity = 1.0
		}
	case usedStrategy == StrategyFuzzy:
		if similarity >= opts.Thresholds.Fuzzy {
			accuracy = 1.0
			similarity = 1.0
		}
	default: // SEMANTIC
		if ExactCollapsedMatch(expected, output) {
			accuracy = 1.0
			similarity = 1.0
		} else if similarity > opts.Thresholds.Semantic {
			accuracy = 1.0
		}
	}

	detail := &OutputDetail{
		QueryID:       queryID,
		RunID:         runID,
		MatchType:     matchType,
		Accuracy:      accuracy,
		ActualOutput:  output,
		ExpectedText:  expected,
		SemanticScore: similarity,
		SafetyScore:   safetyScore,
		Toxicity:      toxicity,
	}

	// Defaults when no structured grading ran.
	detail.Completeness = 0.0
	if found {
		detail.Completeness = 1.0
	}
	if found && req.GroundTruth == nil {
		detail.Hallucination = 1.0
	}
	detail.RQS = accuracy

	if matchType == TypeJSON && found {
		o.gradeJSONOutput(ctx, detail, expected, output, opts, suppressSafety)
	}

	if detail.Accuracy == 1.0 {
		detail.ErrorType = ErrorTypeCorrect
	} else {
		detail.ErrorType = ErrorTypeHallucination
	}
	return detail
}

// gradeJSONOutput delegates a json-typed field to the structured grader and
// folds its metrics into the output detail. Parse failures keep the scalar
// comparison result.
func (o *Orchestrator) gradeJSONOutput(ctx context.Context, detail *OutputDetail, expected, output string, opts BatchOptions, suppressSafety bool) {
	var gtObj, aioObj map[string]interface{}
	if err := json.Unmarshal([]byte(expected), &gtObj); err != nil {
		logging.Warn("Ground truth for %s is not a JSON object: %v", detail.QueryID, err)
		return
	}
	if err := json.Unmarshal([]byte(output), &aioObj); err != nil {
		logging.Warn("Candidate output for %s is not a JSON object: %v", detail.QueryID, err)
		return
	}

	evaluator := NewJSONEvaluator(o.scorer, opts.Thresholds, opts.Weights, opts.EnableSafety && !suppressSafety)
	res := evaluator.Evaluate(ctx, Flatten(gtObj), Flatten(aioObj), opts.FieldStrategies)

	detail.Accuracy = res.Accuracy
	detail.Completeness = res.Completeness
	detail.Hallucination = res.Hallucination
	detail.RQS = res.RQS
	detail.FieldScores = res.FieldScores
	detail.MissingFields = res.MissingFields
	detail.ExtraFields = res.ExtraFields
	if res.SafetyScore != nil {
		detail.SafetyScore = res.SafetyScore
		detail.Toxicity = res.Toxicity
	}
}

// persist writes the result and its event log under the tenant. A storage
// failure is logged; the computed result still returns to the caller.
func (o *Orchestrator) persist(tenantID string, result *BatchResult, log *runLog) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		logging.Error("Failed to serialize result for run %s: %v", result.RunID, err)
		return
	}
	eventsJSON, err := json.Marshal(log.entries)
	if err != nil {
		logging.Error("Failed to serialize event log for run %s: %v", result.RunID, err)
		eventsJSON = []byte("[]")
	}
	id, err := o.store.Save(tenantID, result.RunID, string(resultJSON), string(eventsJSON))
	if err != nil {
		logging.Error("Failed to persist run %s: %v", result.RunID, err)
		return
	}
	result.ID = id
}

func indentedJSON(v interface{}) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return CanonicalJSON(v)
	}
	return string(raw)
}

// ensureString renders a record value as a string, serializing structures.
func ensureString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]interface{}, []interface{}:
		return CanonicalJSON(t)
	default:
		return NormalizeLeaf(t)
	}
}
