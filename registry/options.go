package registry

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Options represents registry connection options shared by command line tools
type Options struct {
	Type        string // registry type: mlflow or mongo
	TrackingURI string // MLflow tracking server URI
	MongoURI    string // MongoDB URI
	DBName      string // MongoDB database name
	Verbose     int    // verbosity level
}

// DefaultOptions returns registry options, MLflow tracking URI is taken
// from MLFLOW_TRACKING_URI when set
func DefaultOptions() Options {
	uri := os.Getenv("MLFLOW_TRACKING_URI")
	if uri == "" {
		uri = "http://localhost:5000"
	}
	return Options{Type: "mlflow", TrackingURI: uri, DBName: "mlpromote"}
}

// AddFlags binds registry options to given flag set
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.Type, "registry", o.Type, "model registry type: mlflow or mongo")
	flags.StringVar(&o.TrackingURI, "tracking-uri", o.TrackingURI, "MLflow tracking server URI")
	flags.StringVar(&o.MongoURI, "mongo-uri", o.MongoURI, "MongoDB URI of model registry")
	flags.StringVar(&o.DBName, "mongo-db", o.DBName, "MongoDB database name of model registry")
}

// Open creates registry client for given options, returned function releases
// underlying connections
func (o Options) Open() (Registry, func(), error) {
	switch o.Type {
	case "mlflow":
		reg := NewMLflow(o.TrackingURI)
		reg.Verbose = o.Verbose
		return reg, func() {}, nil
	case "mongo":
		if o.MongoURI == "" {
			return nil, nil, fmt.Errorf("mongo registry requires --mongo-uri")
		}
		reg := NewMongo(o.MongoURI, o.DBName)
		return reg, reg.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported registry %q", o.Type)
}
