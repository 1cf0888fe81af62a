package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/shardbench/harness/api"
)

// NewSqs creates a reporter that sends run events to an SQS queue
func NewSqs(runUuid string, queueUrl string, region string) (*sqsReporter, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &sqsReporter{
		sqsClient: sqs.NewFromConfig(cfg),
		queueUrl:  queueUrl,
		runUuid:   runUuid,
	}, nil
}

type sqsReporter struct {
	sqsClient *sqs.Client
	queueUrl  string
	runUuid   string
}

func (s *sqsReporter) send(msg interface{}) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal message: %v", err)
		return
	}

	_, err = s.sqsClient.SendMessage(context.TODO(), &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueUrl),
		MessageBody: aws.String(string(b)),
	})
	if err != nil {
		log.Printf("failed to send message to SQS: %v", err)
	}
}

func (s *sqsReporter) StartRun(optim string, worldSize, epochs, batchSize, dataSize int) {
	s.send(api.NewStartRun(s.runUuid, optim, worldSize, epochs, batchSize, dataSize))
}

func (s *sqsReporter) EpochEnd(epoch int, rate, cost float64) {
	s.send(api.NewEpochEnd(s.runUuid, epoch, rate, cost))
}

func (s *sqsReporter) StateCollected(epoch, stateElems int) {
	s.send(api.NewStateCollect(s.runUuid, epoch, stateElems))
}

func (s *sqsReporter) FinishRun(summary *api.RunSummary) {
	s.send(api.NewFinishRun(s.runUuid, summary, nil, false))
}

func (s *sqsReporter) InternalError(msg string) {
	s.send(api.NewFinishRun(s.runUuid, nil, &msg, true))
}

func (s *sqsReporter) Verdict(pass bool, checks []api.GateCheck) {
	s.send(api.NewVerdict(s.runUuid, pass, checks))
}
