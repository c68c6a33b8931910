package registry

import (
	"testing"

	"github.com/spf13/pflag"
)

// TestOptions
func TestOptions(t *testing.T) {
	t.Setenv("MLFLOW_TRACKING_URI", "http://mlflow:5000")
	opts := DefaultOptions()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(flags)
	if err := flags.Parse([]string{"--registry", "mongo", "--mongo-uri", "mongodb://localhost:27017"}); err != nil {
		t.Fatal(err)
	}
	if opts.TrackingURI != "http://mlflow:5000" {
		t.Errorf("unexpected tracking uri %s", opts.TrackingURI)
	}
	reg, closer, err := opts.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if m, ok := reg.(*Mongo); !ok || m.DBName != "mlpromote" {
		t.Errorf("unexpected registry %T", reg)
	}

	opts.MongoURI = ""
	if _, _, err := opts.Open(); err == nil {
		t.Error("mongo registry without uri should fail")
	}
	opts.Type = "memory"
	if _, _, err := opts.Open(); err == nil {
		t.Error("unsupported registry should fail")
	}
	opts.Type = "mlflow"
	reg, _, err = opts.Open()
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := reg.(*MLflow); !ok || m.URI != "http://mlflow:5000" {
		t.Errorf("unexpected registry %+v", reg)
	}
}
