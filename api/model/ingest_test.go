/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEnqueueIngestion(t *testing.T) {
	assert.NoError(t, (&EnqueueIngestion{UserID: "u1", AccessToken: "t"}).ValidateEnqueueIngestion())
	assert.Error(t, (&EnqueueIngestion{UserID: "u1"}).ValidateEnqueueIngestion())
	assert.Error(t, (&EnqueueIngestion{AccessToken: "t"}).ValidateEnqueueIngestion())
}

func TestToIngestionMessage(t *testing.T) {
	msg := (&EnqueueIngestion{UserID: "u1", AccessToken: "t", IsNewUser: true}).ToIngestionMessage()
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "t", msg.AccessToken)
	assert.True(t, msg.IsNewUser)
}
