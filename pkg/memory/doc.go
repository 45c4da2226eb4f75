// Package memory persists agent memories in a sqlite-vec backed vector
// store. Memories are embedded with a local Ollama model and retrieved
// by cosine similarity. Both operations return strings meant to be fed
// back into the model conversation.
package memory
