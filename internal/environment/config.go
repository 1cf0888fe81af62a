package environment

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// EnvConfig carries the reporter endpoints read from the process
// environment, optionally seeded from a .env file.
type EnvConfig struct {
	NatsUrl     string
	NatsSubject string
	SqsUrl      string
	AwsRegion   string
}

const defaultNatsSubject = "shardbench.runs"

func ReadEnvConfig() *EnvConfig {
	// The .env file is optional for benchmark runs.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env file: %v", err)
	}

	result := &EnvConfig{}

	result.NatsUrl = os.Getenv("SHARDBENCH_NATS_URL")
	result.NatsSubject = os.Getenv("SHARDBENCH_NATS_SUBJECT")
	if result.NatsSubject == "" {
		result.NatsSubject = defaultNatsSubject
	}
	result.SqsUrl = os.Getenv("SHARDBENCH_SQS_URL")
	result.AwsRegion = os.Getenv("AWS_REGION")

	return result
}
