package main

import "fmt"

const (
	GenericError     = iota + 100 // generic server error
	BadRequest                    // 101 bad request
	JsonMarshal                   // 102 json.Marshal error
	Unauthorized                  // 103 invalid admin credentials
	ReloadInProgress              // 104 model reload is in progress
	ModelNotReady                 // 105 model is not loaded
	ModelLoadError                // 106 model backend construction error
	PredictionError               // 107 inference error
	FileIOError                   // 108 file IO error
)

// helper function to return human error message for given error code
func errorMessage(code int) string {
	if code == 0 {
		return ""
	} else if code == GenericError {
		return "generic error"
	} else if code == BadRequest {
		return "bad request"
	} else if code == JsonMarshal {
		return "JSON marshal error"
	} else if code == Unauthorized {
		return "Unauthorized"
	} else if code == ReloadInProgress {
		return "model is reloading, try again"
	} else if code == ModelNotReady {
		return "model is not loaded"
	} else if code == ModelLoadError {
		return "model load error"
	} else if code == PredictionError {
		return "prediction error"
	} else if code == FileIOError {
		return "file IO error"
	} else {
		return fmt.Sprintf("Not Implemented error for code %d", code)
	}
}
