/*
 * Copyright 2026 The DataGEMS Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package metric

import (
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestHandler(t *testing.T) {
	Convey("exposes registered counters", t, func() {
		RequestCount.WithLabelValues("/apiv1/semirings", "200").Inc()
		RewriteCount.WithLabelValues("plain").Inc()
		AnnotationCount.WithLabelValues("add_semiring", "created").Inc()

		rw := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/metrics", nil)
		Handler().ServeHTTP(rw, req)

		So(rw.Code, ShouldEqual, 200)
		body := rw.Body.String()
		So(strings.Contains(body, "ap_explanation_api_requests_total"), ShouldBeTrue)
		So(strings.Contains(body, "ap_explanation_rewriter_rewrites_total"), ShouldBeTrue)
		So(strings.Contains(body, "ap_explanation_repository_annotations_total"), ShouldBeTrue)
	})
}
