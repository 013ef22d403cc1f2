// Package stages holds the five stages of a model-search run: ingest,
// preprocess, search, evaluate, and deploy.
package stages

import (
	"github.com/neurogenx/neurogenx/internal/pipeline"
)

// Context keys. The orchestrator seeds the first five; each stage
// documents the keys it reads and writes.
const (
	KeyRunID     pipeline.Key = "run_id"     // uuid.UUID
	KeyDatasetID pipeline.Key = "dataset_id" // string
	KeyTarget    pipeline.Key = "target"     // string
	KeyBudget    pipeline.Key = "budget"     // int
	KeyReporter  pipeline.Key = "reporter"   // search.Reporter, optional

	KeyFrame  pipeline.Key = "frame"  // *dataset.Frame
	KeySchema pipeline.Key = "schema" // map[string]string

	KeyXTrain       pipeline.Key = "x_train"      // [][]float64
	KeyYTrain       pipeline.Key = "y_train"      // []int
	KeyXTest        pipeline.Key = "x_test"       // [][]float64
	KeyYTest        pipeline.Key = "y_test"       // []int
	KeyPreprocessor pipeline.Key = "preprocessor" // learn.Preprocessor

	KeyChampionPipeline pipeline.Key = "champion_pipeline" // learn.Model
	KeyChampionGenome   pipeline.Key = "champion_genome"   // model.Candidate
	KeyBestScore        pipeline.Key = "best_score"        // float64
	KeyTrialsFailed     pipeline.Key = "trials_failed"     // int

	KeyMetrics          pipeline.Key = "metrics"           // map[string]float64
	KeyChampionManifest pipeline.Key = "champion_manifest" // model.ChampionManifest
)

// SeedKeys are the keys the orchestrator places in every new Context.
var SeedKeys = []pipeline.Key{KeyRunID, KeyDatasetID, KeyTarget, KeyBudget}
