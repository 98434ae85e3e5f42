// Package machinelearning is the HTTP client of the machine learning
// service used for image tagging, CLIP embeddings and face detection.
package machinelearning
