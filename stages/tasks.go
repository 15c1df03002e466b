package stages

// Standalone task names.
const (
	TaskTranscode    = "transcode"
	TaskSpeechToText = "stt"
	TaskDiagram      = "bpmn"
	TaskSuggestions  = "suggestions"
)

// Pipeline stage task names. These variants emit progress notifications.
const (
	TaskPipelineTranscode    = "pipeline.transcode"
	TaskPipelineSpeechToText = "pipeline.stt"
	TaskPipelineDiagram      = "pipeline.bpmn"
	TaskPipelineSuggestions  = "pipeline.suggestions"
)
