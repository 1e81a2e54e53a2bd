package common

// Optimizer variants
const MD_VARIANT = "md"
const PARALLEL_MD_VARIANT = "parallel_md"
const ADAM_MD_VARIANT = "adam"

// Collection disciplines
const SEQUENTIAL_COLLECTION = "sequential"
const PARALLEL_COLLECTION = "parallel"

// Defaults
const DEFAULT_BASE_LR = 0.01
const DEFAULT_BETA_2 = 0.999
const DEFAULT_ADAM_EPS = 1e-8
const DEFAULT_HYPERGRAD_CLIP = 1e6
const DEFAULT_MAX_EXPONENT = 700.0
const SIMPLEX_TOLERANCE = 1e-9

// Server
const HTTP_SERVER_PORT = 8080
const MAX_FINISHED_RUNS = 100

// Events
const ROUND_FINISHED_EVENT_TYPE = "RoundFinished"
const PEER_DROPPED_EVENT_TYPE = "PeerDropped"
const TRAINING_FINISHED_EVENT_TYPE = "TrainingFinished"

// Exit codes
const EXIT_OK = 0
const EXIT_ERROR = 1
const EXIT_STOPPED = 2
