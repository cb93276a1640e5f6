package stt_test

import (
	"github.com/sentirelabs/sentire/adapters/stt"
	"github.com/sentirelabs/sentire/domain/repositories"
)

var _ repositories.SpeechToText = &stt.GoogleSpeechToText{}
