package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldSeriesID    = "series_id"
	FieldInstanceID  = "instance_id"
	FieldKind        = "kind"
	FieldFrequency   = "frequency"
	FieldDueDate     = "due_date"
	FieldNextDueDate = "next_due_date"
	FieldAmountCents = "amount_cents"
	FieldRowRef      = "row_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentSeries    = "series"
	ComponentProcessor = "processor"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpRead        = "read"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpList        = "list"
	OpPause       = "pause"
	OpResume      = "resume"
	OpMaterialize = "materialize"
	OpProcessDue  = "process_due"
	OpMirror      = "mirror"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)
