// Package gemini implements the polish.Polisher interface using Google's
// Gemini API through the google.golang.org/genai client.
package gemini
