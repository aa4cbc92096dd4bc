package main

import (
	"flag"
	"strings"
	"time"
)

// MultiStringFlag is a flag for passing multiple parameters using same flag
type MultiStringFlag []string

// String returns string representation of the flag values.
func (f *MultiStringFlag) String() string {
	return "[" + strings.Join(*f, " ") + "]"
}

// Set adds a new configuration.
func (f *MultiStringFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// DeployConfig holds the configuration variables for the deployment sequencer
type DeployConfig struct {
	// Workspace
	WorkspaceConfigPath string

	// Model to deploy
	ModelName    string
	ModelVersion int

	// Image build inputs
	ImageName        string
	EnvSpecPath      string
	ScorerEntry      string
	BuildContextPath string

	// Service and its deployment descriptor
	ServiceName string
	CPUCores    float64
	MemoryGB    float64
	Description string
	Tags        map[string]string
	Overwrite   bool

	// End-to-end test request
	SampleRequestPath string

	// Long-running operation polling
	PollInterval  time.Duration
	ImageTimeout  time.Duration
	DeployTimeout time.Duration

	// Backend selection: "api" targets the managed platform, "local" a local
	// Docker daemon, "mock" nothing at all
	Backend       string
	DockerTimeout time.Duration
	ScoringPort   int
	BasePort      int

	// Artifact store used for the pre-deployment model sanity check ("registry"
	// fetches through the registry API, "local" and "s3" read the artifact
	// bucket directly)
	ArtifactStore string
	DataDir       string
	AWSBucket     string
	AWSRegion     string

	// Deployment ledger database (leave db-host blank to log to an in-memory
	// ledger instead)
	DBHost          string
	DBPort          int
	DBUser          string
	DBPass          string
	DBName          string
	DBMigrationsDir string

	// History mode: list past deployments and exit
	History bool
}

// NewDeployConfig computes the configuration object parsing CLI flags
func NewDeployConfig() (conf *DeployConfig) {
	var (
		workspaceConfigPath string

		modelName    string
		modelVersion int

		imageName        string
		envSpecPath      string
		scorerEntry      string
		buildContextPath string

		serviceName string
		cpuCores    float64
		memoryGB    float64
		description string
		tags        MultiStringFlag
		overwrite   bool

		sampleRequestPath string

		pollInterval  time.Duration
		imageTimeout  time.Duration
		deployTimeout time.Duration

		backend       string
		dockerTimeout time.Duration
		scoringPort   int
		basePort      int

		artifactStore string
		dataDir       string
		awsBucket     string
		awsRegion     string

		dbHost          string
		dbPort          int
		dbUser          string
		dbPass          string
		dbName          string
		dbMigrationsDir string

		history bool
	)

	// CLI Flags
	flag.StringVar(&workspaceConfigPath, "workspace-config", "fixtures/workspace.json", "Path of the JSON workspace config file")

	flag.StringVar(&modelName, "model", "ames-housing-regression", "Name of the registered model to deploy")
	flag.IntVar(&modelVersion, "model-version", 0, "Version of the registered model (0 addresses the latest)")

	flag.StringVar(&imageName, "image", "ames-housing-scoring", "Name of the scoring image to build")
	flag.StringVar(&envSpecPath, "env-spec", "fixtures/scoring-env.yml", "Path of the YAML environment spec handed to the image builder")
	flag.StringVar(&scorerEntry, "scorer-entrypoint", "scoring-api", "Entrypoint of the scoring adapter embedded in the image")
	flag.StringVar(&buildContextPath, "build-context", "", "Path of a tar.gz build context (only used by the local backend)")

	flag.StringVar(&serviceName, "service", "ames-housing-svc", "Name of the web service to deploy")
	flag.Float64Var(&cpuCores, "cpu-cores", 1, "CPU cores reserved for the service")
	flag.Float64Var(&memoryGB, "memory-gb", 1, "Memory (in GB) reserved for the service")
	flag.StringVar(&description, "description", "Ames housing price scoring service", "Free-form service description")
	flag.Var(&tags, "tag", "Service tag, as key=value (can be passed several times)")
	flag.BoolVar(&overwrite, "overwrite", false, "Redeploy over an existing service with the same name instead of failing")

	flag.StringVar(&sampleRequestPath, "sample-request", "fixtures/sample-request.json", "Path of the JSON scoring request sent once the service is up")

	flag.DurationVar(&pollInterval, "poll-interval", 5*time.Second, "Delay between two polls of a long-running remote operation (default: 5s)")
	flag.DurationVar(&imageTimeout, "image-timeout", 10*time.Minute, "After this delay, image builds are timed out (default: 10m)")
	flag.DurationVar(&deployTimeout, "deploy-timeout", 20*time.Minute, "After this delay, deployments are timed out (default: 20m)")

	flag.StringVar(&backend, "backend", "api", "Deployment backend: 'api' for the managed platform, 'local' for a local Docker daemon, 'mock' for a dry run")
	flag.DurationVar(&dockerTimeout, "docker-timeout", 15*time.Minute, "Docker commands timeout (local backend only) (default: 15m)")
	flag.IntVar(&scoringPort, "scoring-port", 5001, "Port the scoring adapter listens on inside its container (local backend only)")
	flag.IntVar(&basePort, "base-port", 15001, "First host port bound to deployed services (local backend only)")

	flag.StringVar(&artifactStore, "artifact-store", "registry", "Where the model sanity check fetches the artifact from: 'registry' (default), 'local' or 's3'")
	flag.StringVar(&dataDir, "data-dir", "/data", "The directory artifacts are stored under ('local' artifact store only)")
	flag.StringVar(&awsBucket, "s3-bucket", "", "AWS Bucket holding model artifacts ('s3' artifact store only)")
	flag.StringVar(&awsRegion, "s3-region", "", "AWS Region of the artifact bucket ('s3' artifact store only)")

	flag.StringVar(&dbHost, "db-host", "", "The hostname of the postgres ledger database (leave blank to use an in-memory ledger)")
	flag.IntVar(&dbPort, "db-port", 5432, "The ledger database port")
	flag.StringVar(&dbName, "db-name", "cloudscore", "The ledger database name")
	flag.StringVar(&dbUser, "db-user", "cloudscore", "The ledger database user")
	flag.StringVar(&dbPass, "db-pass", "", "The ledger database password")
	flag.StringVar(&dbMigrationsDir, "db-migrations-dir", "migrations", "The ledger database migrations directory")

	flag.BoolVar(&history, "history", false, "List past deployments from the ledger and exit")

	flag.Parse()

	// Parse key=value tags
	tagMap := map[string]string{}
	for _, tag := range tags {
		parts := strings.SplitN(tag, "=", 2)
		if len(parts) == 2 {
			tagMap[parts[0]] = parts[1]
		} else {
			tagMap[parts[0]] = ""
		}
	}

	return &DeployConfig{
		WorkspaceConfigPath: workspaceConfigPath,

		ModelName:    modelName,
		ModelVersion: modelVersion,

		ImageName:        imageName,
		EnvSpecPath:      envSpecPath,
		ScorerEntry:      scorerEntry,
		BuildContextPath: buildContextPath,

		ServiceName: serviceName,
		CPUCores:    cpuCores,
		MemoryGB:    memoryGB,
		Description: description,
		Tags:        tagMap,
		Overwrite:   overwrite,

		SampleRequestPath: sampleRequestPath,

		PollInterval:  pollInterval,
		ImageTimeout:  imageTimeout,
		DeployTimeout: deployTimeout,

		Backend:       backend,
		DockerTimeout: dockerTimeout,
		ScoringPort:   scoringPort,
		BasePort:      basePort,

		ArtifactStore: artifactStore,
		DataDir:       dataDir,
		AWSBucket:     awsBucket,
		AWSRegion:     awsRegion,

		DBHost:          dbHost,
		DBPort:          dbPort,
		DBUser:          dbUser,
		DBPass:          dbPass,
		DBName:          dbName,
		DBMigrationsDir: dbMigrationsDir,

		History: history,
	}
}
