package common

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/model"
)

func ReadCsvFile(filePath string) ([][]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read input file %s: %w", filePath, err)
	}
	defer f.Close()

	csvReader := csv.NewReader(f)
	csvReader.Comment = '#'
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse file as CSV for %s: %w", filePath, err)
	}

	return records, nil
}

// GetPeerSpecsFromFile reads the peer table. Each record is: name, samples, noise, shift and
// optionally link_cost and energy_cost, both defaulting to 1. Peer ids are assigned in file order.
func GetPeerSpecsFromFile(filePath string) ([]*model.PeerSpec, error) {
	records, err := ReadCsvFile(filePath)
	if err != nil {
		return nil, err
	}

	peers := []*model.PeerSpec{}
	for _, record := range records {
		if len(record) < 4 || len(record) > 6 {
			return nil, fmt.Errorf("Incorrect CSV record: %v", record)
		}

		numSamples, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil || numSamples <= 0 {
			return nil, fmt.Errorf("invalid sample count in record %v", record)
		}
		noise, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid noise in record %v: %w", record, err)
		}
		shift, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shift in record %v: %w", record, err)
		}

		costs := []float64{1, 1}
		for i := 4; i < len(record); i++ {
			c, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil || c < 0 {
				return nil, fmt.Errorf("invalid cost in record %v", record)
			}
			costs[i-4] = c
		}

		peers = append(peers, &model.PeerSpec{
			Id:         len(peers),
			Name:       strings.TrimSpace(record[0]),
			NumSamples: numSamples,
			Noise:      noise,
			Shift:      shift,
			LinkCost:   costs[0],
			EnergyCost: costs[1],
		})
	}

	return peers, nil
}

func GetRoundFinishedEvent(data events.RoundFinishedEvent) events.Event {
	return events.Event{
		Type:      ROUND_FINISHED_EVENT_TYPE,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func GetTrainingFinishedEvent(runId string, step int, exitCode int32, exitMessage string) events.Event {
	return events.Event{
		Type:      TRAINING_FINISHED_EVENT_TYPE,
		Timestamp: time.Now(),
		Data: events.TrainingFinishedEvent{
			RunId:       runId,
			Step:        step,
			ExitCode:    exitCode,
			ExitMessage: exitMessage,
		},
	}
}

func GetPeerDroppedEvent(step int, peerIds []int, weights []float64) events.Event {
	ids := append([]int(nil), peerIds...)
	sort.Ints(ids)

	return events.Event{
		Type:      PEER_DROPPED_EVENT_TYPE,
		Timestamp: time.Now(),
		Data: events.PeerDroppedEvent{
			Step:    step,
			PeerIds: ids,
			Weights: append([]float64(nil), weights...),
		},
	}
}

func CalculateAverageFloat64(numbers []float64) float64 {
	if len(numbers) == 0 {
		return 0
	}

	var sum float64
	for _, number := range numbers {
		sum += number
	}

	return sum / float64(len(numbers))
}

// KlDivergence returns KL(p || q). Terms with p[i] == 0 contribute nothing.
func KlDivergence(p, q []float64) float64 {
	if len(p) != len(q) {
		panic("Distributions must have the same number of parameters")
	}

	klDiv := 0.0
	for i := 0; i < len(p); i++ {
		if p[i] == 0 || q[i] == 0 {
			continue
		}
		klDiv += p[i] * math.Log(p[i]/q[i])
	}
	return klDiv
}

func UniformDistribution(n int) []float64 {
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = 1 / float64(n)
	}
	return uniform
}

func FormatWeights(weights []float64) string {
	parts := make([]string, len(weights))
	for i, w := range weights {
		parts[i] = fmt.Sprintf("%.4f", w)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
