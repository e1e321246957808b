// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

// Config holds the AWS settings for reaching the configuration bucket.
type Config struct {
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Role         string `mapstructure:"role"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	InsecureTLS  bool   `mapstructure:"insecure_tls"`
}

// ManagerOptions translates the config into options for NewManager.
func (c Config) ManagerOptions() []ManagerOption {
	var opts []ManagerOption
	if c.Region != "" {
		opts = append(opts, WithDefaultRegion(c.Region))
	}
	if c.AccessKey != "" && c.SecretKey != "" {
		opts = append(opts, WithStaticCredentials(c.AccessKey, c.SecretKey))
	}
	return opts
}

// S3Options translates the config into options for GetS3.
func (c Config) S3Options() []S3Option {
	var opts []S3Option
	if c.Role != "" {
		opts = append(opts, WithRole(c.Role))
	}
	if c.Region != "" {
		opts = append(opts, WithRegion(c.Region))
	}
	if c.Endpoint != "" {
		opts = append(opts, WithEndpoint(c.Endpoint))
	}
	if c.UsePathStyle {
		opts = append(opts, WithPathStyle())
	}
	if c.InsecureTLS {
		opts = append(opts, WithInsecureTLS())
	}
	return opts
}
