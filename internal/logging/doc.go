// Package logging sets up structured JSON logging for recyclix, optionally
// into a size-rotated file under ~/.recyclix/logs, and reads those files back
// for `recyclix logs`.
package logging
