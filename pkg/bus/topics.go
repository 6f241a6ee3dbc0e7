// Copyright 2025 The Wastepro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bus

import "github.com/google/uuid"

// Canonical topic vocabulary. Topics are opaque broker keys; the
// slash-separated convention is <operation>/<service>/<tier>.
const (
	TopicFileUpload = "FileUpload/FileService/Services"

	TopicPdfUpload    = "FileUpload/Pdf/Retrieval"
	TopicPdfRetrieved = "Retrieved/Pdf/Retrieval"

	TopicKGCreate       = "Create/KGService/Services"
	TopicKGAccessPoint  = "AccessPoint/KGService/Services"
	TopicConceptsQuery  = "ConceptsQuery/KGService/Services"
	TopicSectionsQuery  = "SectionsQuery/KGService/Services"
	topicKGTripletsAdd  = "AddTriplets/KGService/Services"

	TopicLLMPrompt = "Prompt/LlmService/Services"

	TopicSCQCreate   = "Create/SCQ/Generation"
	TopicSCQEvaluate = "Evaluate/SCQ/Evaluation"
)

// TripletsAddTopic returns the per-subject triplet merge topic.
func TripletsAddTopic(kgName string) string {
	return kgName + "/" + topicKGTripletsAdd
}

// replyTopic allocates a private one-shot reply topic for PublishSync.
func replyTopic(agentID string) string {
	return "Reply/" + agentID + "/" + uuid.NewString()
}
