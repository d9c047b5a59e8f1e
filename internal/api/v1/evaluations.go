package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nexuseval/pkg/eval"
)

// evalOptions is the flat threshold/weight block shared by the evaluation
// endpoints. Absent fields keep their defaults.
type evalOptions struct {
	AccuracyThreshold      float64 `json:"accuracy_threshold"`
	ConsistencyThreshold   float64 `json:"consistency_threshold"`
	HallucinationThreshold float64 `json:"hallucination_threshold"`
	RQSThreshold           float64 `json:"rqs_threshold"`
	SemanticThreshold      float64 `json:"semantic_threshold"`
	FuzzyThreshold         float64 `json:"fuzzy_threshold"`

	WAccuracy      float64 `json:"w_accuracy"`
	WCompleteness  float64 `json:"w_completeness"`
	WHallucination float64 `json:"w_hallucination"`
	WSafety        float64 `json:"w_safety"`

	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`

	EnableSafety    bool                   `json:"enable_safety"`
	FieldStrategies map[string]interface{} `json:"field_strategies"`
}

func defaultEvalOptions() evalOptions {
	d := eval.DefaultBatchOptions()
	return evalOptions{
		AccuracyThreshold:      d.Thresholds.Accuracy,
		ConsistencyThreshold:   d.Thresholds.Consistency,
		HallucinationThreshold: d.Thresholds.Hallucination,
		RQSThreshold:           d.Thresholds.RQS,
		SemanticThreshold:      d.Thresholds.Semantic,
		FuzzyThreshold:         d.Thresholds.Fuzzy,
		WAccuracy:              d.Weights.Accuracy,
		WCompleteness:          d.Weights.Completeness,
		WHallucination:         d.Weights.Hallucination,
		WSafety:                d.Weights.Safety,
		Alpha:                  d.Alpha,
		Beta:                   d.Beta,
		Gamma:                  d.Gamma,
	}
}

func (o evalOptions) toBatchOptions() (eval.BatchOptions, error) {
	strategies, err := eval.ParseStrategies(o.FieldStrategies)
	if err != nil {
		return eval.BatchOptions{}, err
	}
	return eval.BatchOptions{
		Thresholds: eval.Thresholds{
			Accuracy:      o.AccuracyThreshold,
			Consistency:   o.ConsistencyThreshold,
			Hallucination: o.HallucinationThreshold,
			RQS:           o.RQSThreshold,
			Semantic:      o.SemanticThreshold,
			Fuzzy:         o.FuzzyThreshold,
		},
		Weights: eval.JSONWeights{
			Accuracy:      o.WAccuracy,
			Completeness:  o.WCompleteness,
			Hallucination: o.WHallucination,
			Safety:        o.WSafety,
		},
		Alpha:               o.Alpha,
		Beta:                o.Beta,
		Gamma:               o.Gamma,
		EnableSafety:        o.EnableSafety,
		AggregateRunMetrics: true,
		FieldStrategies:     strategies,
	}, nil
}

type jsonEvalRequest struct {
	GroundTruth []map[string]interface{} `json:"ground_truth" binding:"required"`
	AIOutputs   []map[string]interface{} `json:"ai_outputs" binding:"required"`

	GTQueryIDKey   string `json:"gt_query_id_key"`
	GTExpectedKey  string `json:"gt_expected_key"`
	GTTypeKey      string `json:"gt_type_key"`
	PredQueryIDKey string `json:"pred_query_id_key"`
	PredOutputKey  string `json:"pred_output_key"`
	PredRunIDKey   string `json:"pred_run_id_key"`

	evalOptions
}

func (h *Handlers) evaluateFromJSON(c *gin.Context) {
	req := jsonEvalRequest{evalOptions: defaultEvalOptions()}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ground_truth and ai_outputs are required")
		return
	}
	opts, err := req.toBatchOptions()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.orchestrator.RunJSONEvaluation(c.Request.Context(), c.GetString("tenant_id"), eval.JSONEvaluationRequest{
		GroundTruth:    req.GroundTruth,
		AIOutputs:      req.AIOutputs,
		GTQueryIDKey:   req.GTQueryIDKey,
		GTExpectedKey:  req.GTExpectedKey,
		GTTypeKey:      req.GTTypeKey,
		PredQueryIDKey: req.PredQueryIDKey,
		PredOutputKey:  req.PredOutputKey,
		PredRunIDKey:   req.PredRunIDKey,
		Options:        opts,
	})
	if err != nil {
		respondEvalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type pathEvalRequest struct {
	GroundTruthPath string `json:"ground_truth_path" binding:"required"`
	AIOutputsPath   string `json:"ai_outputs_path" binding:"required"`

	GTQueryIDKey   string `json:"gt_query_id_key"`
	GTExpectedKey  string `json:"gt_expected_key"`
	GTTypeKey      string `json:"gt_type_key"`
	PredQueryIDKey string `json:"pred_query_id_key"`
	PredOutputKey  string `json:"pred_output_key"`
	PredRunIDKey   string `json:"pred_run_id_key"`

	evalOptions
}

func (h *Handlers) evaluateFromPaths(c *gin.Context) {
	req := pathEvalRequest{evalOptions: defaultEvalOptions()}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ground_truth_path and ai_outputs_path are required")
		return
	}
	opts, err := req.toBatchOptions()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.orchestrator.RunFromPaths(c.Request.Context(), c.GetString("tenant_id"), eval.PathEvaluationRequest{
		GroundTruthPath: req.GroundTruthPath,
		AIOutputsPath:   req.AIOutputsPath,
		GTQueryIDKey:    req.GTQueryIDKey,
		GTExpectedKey:   req.GTExpectedKey,
		GTTypeKey:       req.GTTypeKey,
		PredQueryIDKey:  req.PredQueryIDKey,
		PredOutputKey:   req.PredOutputKey,
		PredRunIDKey:    req.PredRunIDKey,
		Options:         opts,
	})
	if err != nil {
		respondEvalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type runBatchRequest struct {
	Requests []eval.TestRequest `json:"requests" binding:"required"`
	evalOptions
}

func (h *Handlers) runBatch(c *gin.Context) {
	req := runBatchRequest{evalOptions: defaultEvalOptions()}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "requests is required")
		return
	}
	opts, err := req.toBatchOptions()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.orchestrator.RunBatch(c.Request.Context(), c.GetString("tenant_id"), req.Requests, opts)
	if err != nil {
		respondEvalError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type datasetEvalRequest struct {
	Rows             []map[string]string `json:"rows" binding:"required"`
	ContextDelimiter string              `json:"context_delimiter"`
}

// evaluateDataset runs the tabular bot comparison over uploaded rows.
func (h *Handlers) evaluateDataset(c *gin.Context) {
	var req datasetEvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "rows is required")
		return
	}
	if len(req.Rows) == 0 {
		badRequest(c, "rows is empty")
		return
	}

	headers := make([]string, 0, len(req.Rows[0]))
	for col := range req.Rows[0] {
		headers = append(headers, col)
	}
	cols, err := eval.DiscoverColumns(headers)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	dataset := eval.BuildDataset(req.Rows, cols, req.ContextDelimiter)
	result := h.tabular.Run(c.Request.Context(), dataset)
	if result.Error != "" {
		badRequest(c, result.Error)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) listResults(c *gin.Context) {
	records, err := h.repos.Evaluations.ListByTenant(c.GetString("tenant_id"))
	if err != nil {
		internalError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": records})
}

func (h *Handlers) latestResult(c *gin.Context) {
	record, err := h.repos.Evaluations.GetLatest(c.GetString("tenant_id"))
	if err != nil {
		internalError(c, err.Error())
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no evaluations found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handlers) resultByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid result id")
		return
	}
	record, err := h.repos.Evaluations.GetByID(id, c.GetString("tenant_id"))
	if err != nil {
		internalError(c, err.Error())
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func respondEvalError(c *gin.Context, err error) {
	var verr *eval.ValidationError
	if errors.As(err, &verr) {
		badRequest(c, verr.Message)
		return
	}
	internalError(c, err.Error())
}
