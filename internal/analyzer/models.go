package analyzer

import "github.com/anime-shed/text-extractor-go/pkg/models"

// Accuracy is an alias to the shared response model.
type Accuracy = models.Accuracy
