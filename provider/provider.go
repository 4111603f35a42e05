// Copyright 2025 CrossAudit
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import "context"

// Provider is the unified interface all vendor adapters implement.
//
// Adapters are responsible for translating the unified CompletionRequest
// into the vendor's wire format, translating failures into *ProviderError,
// and keeping their RateLimitState current from response headers.
type Provider interface {
	// Name returns the unique name of this adapter instance.
	Name() string

	// Vendor returns the vendor this adapter talks to.
	Vendor() Vendor

	// Complete generates a completion for the given request.
	Complete(ctx context.Context, req CompletionRequest) (*CandidateAnswer, error)

	// HealthCheck verifies the vendor is reachable. A nil return means
	// healthy; the error describes the failure otherwise.
	HealthCheck(ctx context.Context) error

	// RateLimit returns the last observed vendor rate limit budget.
	RateLimit() RateLimitState
}

// StreamingProvider is implemented by adapters that support streaming.
// The Manager synthesizes a single-chunk stream for adapters that don't.
type StreamingProvider interface {
	Provider

	// CompleteStream generates a streaming completion, invoking handler
	// for each chunk. The returned answer holds the full accumulated
	// content.
	CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CandidateAnswer, error)
}
