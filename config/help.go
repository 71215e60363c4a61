package config

import "strings"

const helpTemplate = `Usage: {{prog}} [-o [path]] [-p [path]] [-z [path]] [-x [path]] [--] directoryOrManifest...
       {{prog}} verify file.crx

Options:

  -o, --crx [path]    create CRX file at the given path
  -p, --key [path]    read from or create private key file at the given path
  -z, --zip [path]    create ZIP file too
  -x, --xml [path]    create XML file (update manifest) too
      --crx-url url   URL to write into the update manifest
      --app-version v version to write into the update manifest
      --name name     name output files after name
      --config file   read settings from a YAML file
  -v, --verbose       log progress to stderr
      --version       print version and exit
  -h, --help          show this help

An argument right after one of these options is its path. If the option
is last, or followed by another option or "--", the file name is based on
the extension's directory name. Use "--" to end options before the
extension paths. Private key (.pem) files are never packaged.

A private key file is never overwritten: an existing one is used to sign.
CRX and ZIP files are always overwritten.

Examples:

  {{prog}} -p -z -- web-extension/manifest.json

or

  {{prog}} -p -z -- web-extension/

creates "web-extension.crx", "web-extension.pem" and "web-extension.zip".
If "web-extension.pem" already exists, it is used instead of creating a new one.

  {{prog}} -p -z backup.zip web-extension/

creates "web-extension.crx", "web-extension.pem" and "backup.zip".

  cat web-extension.zip | {{prog}} -p

reads an existing ZIP file and creates "web-extension.crx" and
"web-extension.pem". The ZIP must have manifest.json at its root, not
inside a parent directory, or browsers will reject the package.

  zip -r -9 -j - web-extension | {{prog}} -p

builds the ZIP on the fly.

  {{prog}} verify web-extension.crx

checks a package's signature and prints its ID.
`

// HelpText returns usage text for the command line tool named program.
func HelpText(program string) string {
	return strings.ReplaceAll(helpTemplate, "{{prog}}", program)
}
