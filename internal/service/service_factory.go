package service

import (
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/generator"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg       *config.Config
	configs   ConfigCache
	sessions  Sessions
	documents DocumentSource
	generator generator.Generator
	publisher UpdatePublisher
	stats     Stats
	logger    *zap.Logger

	widgetService  *WidgetService
	chatbotService *ChatbotService
}

func NewServiceFactory(
	cfg *config.Config,
	configs ConfigCache,
	sessions Sessions,
	documents DocumentSource,
	gen generator.Generator,
	publisher UpdatePublisher,
	stats Stats,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:       cfg,
		configs:   configs,
		sessions:  sessions,
		documents: documents,
		generator: gen,
		publisher: publisher,
		stats:     stats,
		logger:    logger,
	}
}

// WidgetService returns the widget service instance (singleton)
func (f *ServiceFactory) WidgetService() *WidgetService {
	if f.widgetService == nil {
		f.widgetService = NewWidgetService(
			f.configs,
			f.sessions,
			f.documents,
			f.generator,
			WidgetOptions{
				MaxMessageLength:  f.cfg.Session.MaxMessageLength,
				HistoryLimit:      f.cfg.Session.HistoryLimit,
				DocumentLimit:     f.cfg.Documents.Limit,
				GenerationTimeout: f.cfg.Session.GenerationTimeout,
			},
			f.logger,
		)
	}
	return f.widgetService
}

// ChatbotService returns the chatbot admin service instance (singleton)
func (f *ServiceFactory) ChatbotService() *ChatbotService {
	if f.chatbotService == nil {
		f.chatbotService = NewChatbotService(f.configs, f.publisher, f.stats, f.logger)
	}
	return f.chatbotService
}
